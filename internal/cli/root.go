// Package cli implements the docstore command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/maruel/docstore/internal/config"
	"github.com/maruel/docstore/internal/docstore"
	"github.com/spf13/cobra"
)

// ValidFormats are the accepted values of --format.
var ValidFormats = []string{"json", "yaml"}

// ExitCodeConflict is the exit status of a write that lost a revision race.
const ExitCodeConflict = 3

// ExitError carries a specific process exit status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

var errConflict = errors.New("revision conflict")

// RootOptions holds the persistent flags and the configuration resolved
// from them.
type RootOptions struct {
	DataDir    string
	ConfigPath string
	LogLevel   string
	NoLock     bool
	Format     string

	// Config is resolved before any subcommand runs.
	Config *config.Config

	level *slog.LevelVar
}

// NewRootCommand returns the docstore command. When level is not nil, it is
// set to the configured log level.
func NewRootCommand(level *slog.LevelVar) *cobra.Command {
	opts := &RootOptions{level: level}
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "docstore",
		Short: "File backed JSON document store",
		Long: `docstore stores JSON documents as files under a directory tree, one file
per document, safe to share between processes. Every write carries the
revision it expects to replace and fails with a conflict otherwise.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return opts.resolve(cmd)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.DataDir, "data-dir", def.DataDir, "root directory of the store")
	f.StringVar(&opts.ConfigPath, "config", "", "configuration file (default <data-dir>/"+config.FileName+")")
	f.StringVar(&opts.LogLevel, "log-level", def.LogLevel, "log level (debug, info, warn, error)")
	f.BoolVar(&opts.NoLock, "no-lock", false, "disable advisory file locks")
	f.StringVar(&opts.Format, "format", "json", "output format (json|yaml)")

	cmd.AddCommand(newPutCommand(opts))
	cmd.AddCommand(newGetCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newIDsCommand(opts))
	cmd.AddCommand(newTypesCommand(opts))
	cmd.AddCommand(newPurgeCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))
	return cmd
}

// resolve loads the configuration: file, then environment, then the flags
// that were set explicitly.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path := o.ConfigPath
	if path == "" {
		dir := o.DataDir
		if !flags.Changed("data-dir") {
			if v, ok := os.LookupEnv("DOCSTORE_DATA_DIR"); ok {
				dir = v
			}
		}
		path = filepath.Join(dir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("no-lock") {
		cfg.NoLock = o.NoLock
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if o.level != nil {
		l, _ := cfg.Level()
		o.level.Set(l)
	}
	o.Config = cfg
	slog.Debug("config", "path", path, "data_dir", cfg.DataDir, "no_lock", cfg.NoLock)
	return nil
}

// openStore opens the configured store.
func (o *RootOptions) openStore() (*docstore.Store, error) {
	return docstore.New(docstore.Options{Dir: o.Config.DataDir, NoLock: o.Config.NoLock})
}
