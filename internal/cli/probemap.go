package cli

import (
	"bytes"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/daq"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ndierr"
)

// ProbeMapResult is a parsed epoch probe map.
type ProbeMapResult struct {
	Path    string                `json:"path"`
	Entries []epoch.ProbeMapEntry `json:"entries"`
	// Text is the canonical tab-separated form.
	Text string `json:"text"`
}

func (r ProbeMapResult) RenderText(w io.Writer) error {
	_, err := io.WriteString(w, r.Text)
	return err
}

// NewProbeMapCommand creates the probemap command.
func NewProbeMapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probemap <file>",
		Short: "Check an epoch probe map file",
		Long: `Parse an epoch probe map file, check its probe names and device
strings, and print it in canonical form. Rows naming the same probe are
merged.

Examples:
  ndi probemap rec_1.epochprobemap.txt
  ndi probemap rec_1.epochprobemap.txt --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbeMap(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runProbeMap(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	entries, err := epoch.ParseProbeMapFile(path)
	if err != nil {
		code := ExitFailure
		if ndierr.Is(err, ndierr.KindNotFound) || ndierr.Is(err, ndierr.KindIOFailure) {
			code = ExitCommandError
		}
		return formatter.Fail(code, "invalid probe map", err)
	}
	if entries == nil {
		entries = []epoch.ProbeMapEntry{}
	}
	for _, e := range entries {
		for _, raw := range e.DeviceStrings {
			if _, err := daq.ParseDaqSystemString(raw); err != nil {
				return formatter.Fail(ExitFailure, "invalid probe map", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := epoch.WriteProbeMap(&buf, entries); err != nil {
		return formatter.Fail(ExitCommandError, "failed to render probe map", err)
	}
	return formatter.Success(ProbeMapResult{Path: path, Entries: entries, Text: buf.String()})
}
