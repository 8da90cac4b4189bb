package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/store"
)

// VerifyResult wraps the store report for output.
type VerifyResult struct {
	store.VerifyReport
	OK bool `json:"ok"`
}

func (r VerifyResult) RenderText(w io.Writer) error {
	if r.OK {
		fmt.Fprintf(w, "✓ %d document(s), no problems found\n", r.Documents)
		return nil
	}
	fmt.Fprintf(w, "✗ %d document(s), %d dangling dependency(ies), %d cycle(s)\n",
		r.Documents, len(r.Dangling), len(r.Cycles))
	for _, d := range r.Dangling {
		fmt.Fprintf(w, "  dangling: %s depends_on %s -> %s\n", d.DocID, d.Name, d.Target)
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(w, "  cycle: %s\n", c.Message)
	}
	return nil
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the document store for dangling dependencies and cycles",
		Long: `Check the document store for dangling dependencies and dependency cycles.

Exit codes:
  0 - No problems found
  1 - Problems found
  2 - Command error (store cannot be opened, etc.)

Examples:
  ndi verify --dir ./session1
  ndi verify --db ./ndi.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	st, err := openStore(cmd.Context(), opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	report, err := st.Verify(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, "verify failed", err)
	}
	result := VerifyResult{VerifyReport: report, OK: report.OK()}
	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.OK {
		return NewExitError(ExitFailure, fmt.Sprintf("store has %d dangling dependency(ies) and %d cycle(s)",
			len(report.Dangling), len(report.Cycles)))
	}
	return nil
}
