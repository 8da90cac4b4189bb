package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
)

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Upsert bool
}

// AddResult lists the stored document ids in file order.
type AddResult struct {
	Added []string `json:"added"`
}

func (r AddResult) RenderText(w io.Writer) error {
	for _, id := range r.Added {
		fmt.Fprintln(w, id)
	}
	fmt.Fprintf(w, "%d document(s) stored\n", len(r.Added))
	return nil
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <document.json>...",
		Short: "Store documents read from JSON files",
		Long: `Store documents read from JSON files.

Files are added in the order given, so a document's dependencies must come
before it. Documents are validated against their class schema.

Example:
  ndi add subject.json probe.json
  ndi add --upsert element.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Upsert, "upsert", false, "replace documents that already exist")

	return cmd
}

func runAdd(opts *AddOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	docs := make([]*document.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to read "+p, ndierr.IO("cli.add", err))
		}
		d, err := document.Parse(data)
		if err != nil {
			return formatter.Fail(ExitCommandError, "invalid document in "+p, err)
		}
		docs = append(docs, d)
	}

	st, err := openStore(cmd.Context(), opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	result := AddResult{Added: make([]string, 0, len(docs))}
	for i, d := range docs {
		write := st.Add
		if opts.Upsert {
			write = st.Upsert
		}
		if err := write(cmd.Context(), d); err != nil {
			return formatter.Fail(ExitFailure, "failed to store "+paths[i], err)
		}
		formatter.VerboseLog("stored %s (%s) from %s", d.ID(), d.ClassName(), paths[i])
		result.Added = append(result.Added, d.ID())
	}
	return formatter.Success(result)
}
