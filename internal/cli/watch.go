// Streams document changes.

package cli

import (
	"log/slog"

	"github.com/maruel/docstore/internal/docstore"
	"github.com/maruel/docstore/internal/watch"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch TYPE",
		Short: "Print changes to documents of a type",
		Long: `Print one event per change to a document of TYPE until interrupted.

Events carry the neutralized id and the operation, "put" or "remove". A single
write may be reported more than once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.run(cmd, func(s *docstore.Store, p *printer) error {
				w, err := watch.New(s, args[0])
				if err != nil {
					return err
				}
				defer func() { _ = w.Close() }()
				slog.DebugContext(ctx, "Watching", "type", args[0], "dir", s.TypeDir(args[0]))
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case ev := <-w.Events():
						if err := p.line(ev); err != nil {
							return err
						}
					case err := <-w.Errors():
						slog.WarnContext(ctx, "Watch error", "err", err)
					}
				}
			})
		},
	}
}
