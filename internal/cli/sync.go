package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/cloud"
	"github.com/roach88/ndicore/internal/cloudsync"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Dataset    string
	Mode       string
	DryRun     bool
	ChunkSize  int
	Timeout    time.Duration
	Files      string
	Serial     bool
	APIBaseURL string
}

// SyncResult wraps the engine report for output.
type SyncResult struct {
	cloudsync.Report
}

func (r SyncResult) RenderText(w io.Writer) error {
	status := "✓"
	if !r.Success {
		status = "✗"
	}
	dry := ""
	if r.DryRun {
		dry = " (dry run)"
	}
	fmt.Fprintf(w, "%s sync %s %s%s\n", status, r.Mode, r.RunID, dry)
	fmt.Fprintf(w, "  planned:  %s\n", r.Delta)
	if !r.DryRun {
		fmt.Fprintf(w, "  applied:  download=%d upload=%d delete_local=%d delete_remote=%d\n",
			len(r.Downloaded), len(r.Uploaded), len(r.DeletedLocal), len(r.DeletedRemote))
		fmt.Fprintf(w, "  files:    downloaded=%d uploaded=%d skipped=%d\n",
			r.FilesDownloaded, r.FilesUploaded, r.FilesSkipped)
	}
	if len(r.Delta.Conflicts) > 0 {
		fmt.Fprintf(w, "  conflicts (skipped): %s\n", strings.Join(r.Delta.Conflicts, " "))
	}
	if r.Canceled {
		fmt.Fprintln(w, "  canceled")
	}
	if r.ErrorMessage != "" {
		fmt.Fprintf(w, "  error: %s\n", r.ErrorMessage)
	}
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the session's documents with an NDI cloud dataset",
		Long: fmt.Sprintf(`Synchronize the session's documents with an NDI cloud dataset.

Modes: %s.

Credentials are read from the environment: %s, or %s and %s.
%s selects the API (prod or dev).

Exit codes:
  0 - Sync completed
  1 - Sync failed or was interrupted (progress so far is kept)
  2 - Command error (bad flags, missing credentials, etc.)

Examples:
  ndi sync --dataset 6501f2c3 --mode two_way_sync
  ndi sync --dataset 6501f2c3 --mode download_new --files cloud --dry-run`,
			strings.Join(modeNames(), ", "), cloud.EnvToken, cloud.EnvUsername, cloud.EnvPassword, cloud.EnvAPIEnvironment),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Dataset, "dataset", "", "cloud dataset id (required)")
	_ = cmd.MarkFlagRequired("dataset")
	cmd.Flags().StringVar(&opts.Mode, "mode", string(cloudsync.TwoWaySync), "sync mode")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute the plan without applying it")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", cloudsync.MaxChunkSize, "documents per bulk request")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", cloudsync.DefaultTimeout, "how long to wait for a bulk archive")
	cmd.Flags().StringVar(&opts.Files, "files", string(cloudsync.FilesLocal), "where downloaded binaries live (local|cloud)")
	cmd.Flags().BoolVar(&opts.Serial, "serial-files", false, "upload each document's files right after it")
	cmd.Flags().StringVar(&opts.APIBaseURL, "api-url", "", "cloud API base URL (overrides "+cloud.EnvAPIEnvironment+")")

	return cmd
}

func modeNames() []string {
	modes := cloudsync.Modes()
	out := make([]string, len(modes))
	for i, m := range modes {
		out[i] = string(m)
	}
	return out
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	mode, err := cloudsync.ParseMode(opts.Mode)
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid --mode", err)
	}

	sess, err := cloud.NewSessionFromEnv()
	if err != nil {
		return formatter.Fail(ExitCommandError, "cloud credentials", err)
	}
	if opts.APIBaseURL != "" {
		sess.BaseURL = strings.TrimRight(opts.APIBaseURL, "/")
	}
	remote := cloud.NewClient(sess, opts.Dataset, cloud.WithLogger(slog.Default()))

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	eng := cloudsync.NewEngine(st, remote, opts.Dir, cloudsync.WithLogger(slog.Default()))
	slog.Info("sync starting", "dataset", remote.DatasetID(), "mode", mode, "dry_run", opts.DryRun)
	report, runErr := eng.Run(ctx, cloudsync.Options{
		Mode:             mode,
		DryRun:           opts.DryRun,
		ChunkSize:        opts.ChunkSize,
		Timeout:          opts.Timeout,
		Files:            cloudsync.FileMode(opts.Files),
		SerialFileUpload: opts.Serial,
		Verbose:          opts.Verbose,
	})
	if err := formatter.Success(SyncResult{Report: report}); err != nil {
		return err
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "sync failed", runErr)
	}
	return nil
}
