// Serves the HTTP API.

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/server"
	"github.com/maruel/docstore/internal/server/ratelimit"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the documents over HTTP until interrupted.

The listen address, request body limit and per client rate limits come from
the configuration; --http overrides the address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("http") {
				opts.Config.HTTP = addr
			}
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				return serve(cmd.Context(), s, opts)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "http", "", "address to listen on (e.g. localhost:8080, :8080)")
	return cmd
}

func serve(ctx context.Context, s *docstore.Store, opts *RootOptions) error {
	cfg := opts.Config
	limits := ratelimit.NewConfig(cfg.RateLimits.ReadPerMin, cfg.RateLimits.WritePerMin)
	defer limits.Close()
	version, _, _, _ := getBuildInfo()
	httpServer := &http.Server{
		Addr: cfg.HTTP,
		Handler: server.NewRouter(s, server.Options{
			Version:      version,
			MaxBodyBytes: cfg.MaxBodyBytes,
			RateLimits:   limits,
		}),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", cfg.HTTP, "dir", s.Dir(), "locking", s.Locking(), "version", version)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}
