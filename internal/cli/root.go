package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/daq"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Dir is the session directory. The document store lives under
	// <dir>/.ndi unless DB or Postgres is set.
	Dir      string
	DB       string
	Postgres string
	Schemas  string

	// Readers resolves the reader names in DAQ system files. Programs
	// embedding the CLI register their vendor readers here.
	Readers *daq.Registry
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the ndi CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithReaders(DefaultReaders())
}

// NewRootCommandWithReaders creates the root command resolving DAQ readers
// from readers.
func NewRootCommandWithReaders(readers *daq.Registry) *cobra.Command {
	opts := &RootOptions{Readers: readers}

	cmd := &cobra.Command{
		Use:   "ndi",
		Short: "ndi - neuroscience data interface",
		Long: `Inspect and maintain NDI sessions: query the document store, list
epochs, check probe maps and DAQ system strings, verify store integrity and
synchronize with NDI cloud.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "d", ".", "session directory")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "SQLite database instead of the directory store")
	cmd.PersistentFlags().StringVar(&opts.Postgres, "postgres", "", "Postgres DSN instead of the directory store")
	cmd.PersistentFlags().StringVar(&opts.Schemas, "schemas", "", "directory of extra CUE document schemas")

	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDepsCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewEpochsCommand(opts))
	cmd.AddCommand(NewDaqStringCommand(opts))
	cmd.AddCommand(NewProbeMapCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))

	return cmd
}

// DefaultReaders returns the readers built into the binary.
func DefaultReaders() *daq.Registry {
	r := daq.NewRegistry()
	r.Register("synthetic", daq.NewSyntheticReader(16, 30000, 30000))
	return r
}
