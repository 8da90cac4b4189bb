package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// HistoryEntry is one stored version of a document.
type HistoryEntry struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id"`
	VersionDepth int    `json:"version_depth"`
	Latest       bool   `json:"latest_version"`
	Datestamp    string `json:"datestamp"`
}

// HistoryResult holds a document's version chain, oldest first.
type HistoryResult struct {
	ID       string         `json:"id"`
	Versions []HistoryEntry `json:"versions"`
}

func (r HistoryResult) RenderText(w io.Writer) error {
	for _, v := range r.Versions {
		marker := " "
		if v.Latest {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %d  %s  %s\n", marker, v.VersionDepth, v.ID, v.Datestamp)
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <doc-id>",
		Short: "List the stored versions of a document",
		Long: `List the stored versions of a document, oldest first. The latest
version is marked with '*'. Versions that were deleted are skipped.

Examples:
  ndi history 0193a6e1c2b87f0e9d4c5a6b7c8d9e0f
  ndi history 0193a6e1c2b87f0e9d4c5a6b7c8d9e0f --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	doc, err := st.FindByID(ctx, id)
	if err != nil {
		return formatter.Fail(ExitCommandError, "document lookup failed", err)
	}
	versions, err := st.GetHistory(ctx, doc)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to read history", err)
	}

	result := HistoryResult{ID: id, Versions: make([]HistoryEntry, 0, len(versions))}
	for _, v := range versions {
		result.Versions = append(result.Versions, HistoryEntry{
			ID:           v.ID(),
			ParentID:     v.Metadata.ParentID,
			VersionDepth: v.Metadata.VersionDepth,
			Latest:       v.Metadata.LatestVersion,
			Datestamp:    v.Base.Datestamp,
		})
	}
	return formatter.Success(result)
}
