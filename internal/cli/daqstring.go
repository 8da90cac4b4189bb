package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/daq"
)

// DaqStringGroup lists the channels of one type.
type DaqStringGroup struct {
	Type         string `json:"type"`
	Abbreviation string `json:"abbreviation"`
	Channels     []int  `json:"channels"`
}

// DaqStringResult is a parsed DAQ system string.
type DaqStringResult struct {
	Input     string           `json:"input"`
	Canonical string           `json:"canonical"`
	Device    string           `json:"device"`
	Groups    []DaqStringGroup `json:"groups"`
}

func (r DaqStringResult) RenderText(w io.Writer) error {
	fmt.Fprintln(w, r.Canonical)
	for _, g := range r.Groups {
		nums := make([]string, len(g.Channels))
		for i, n := range g.Channels {
			nums[i] = fmt.Sprint(n)
		}
		fmt.Fprintf(w, "  %-16s %s\n", g.Type, strings.Join(nums, " "))
	}
	return nil
}

// NewDaqStringCommand creates the daqstring command.
func NewDaqStringCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daqstring <device:channels>",
		Short: "Parse a DAQ system string and print its canonical form",
		Long: `Parse a DAQ system string such as "dev1:ai3-5,7;di2,4-6", print its
canonical form and the channels it names per channel type.

Examples:
  ndi daqstring 'intan1:ai1-4,7'
  ndi daqstring 'intan1:ai 1-4; di 2' --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaqString(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runDaqString(opts *RootOptions, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	ds, err := daq.ParseDaqSystemString(input)
	if err != nil {
		return formatter.Fail(ExitFailure, "invalid DAQ system string", err)
	}
	result := DaqStringResult{Input: input, Canonical: ds.String(), Device: ds.Device, Groups: []DaqStringGroup{}}
	for _, ct := range ds.Types() {
		result.Groups = append(result.Groups, DaqStringGroup{
			Type:         string(ct),
			Abbreviation: ct.Abbreviation(),
			Channels:     ds.Numbers(ct),
		})
	}
	return formatter.Success(result)
}
