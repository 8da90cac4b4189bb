package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/daq"
	"github.com/roach88/ndicore/internal/epoch"
)

// EpochsOptions holds flags for the epochs command.
type EpochsOptions struct {
	*RootOptions
	Probes bool
}

// ProbeSummary is one probe recorded by a DAQ system.
type ProbeSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Reference int    `json:"reference"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
}

// EpochsResult holds a DAQ system's epoch table.
type EpochsResult struct {
	System string         `json:"daqsystem"`
	Root   string         `json:"root"`
	Epochs []epoch.Entry  `json:"epochs"`
	Probes []ProbeSummary `json:"probes,omitempty"`
}

func (r EpochsResult) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%s: %d epoch(s) under %s\n", r.System, len(r.Epochs), r.Root)
	for _, e := range r.Epochs {
		files := make([]string, len(e.Files))
		for i, f := range e.Files {
			files[i] = filepath.Base(f)
		}
		fmt.Fprintf(w, "%3d  %-24s %s\n", e.Number, e.ID, strings.Join(files, " "))
		for i, c := range e.Clocks {
			if i < len(e.T0T1) {
				fmt.Fprintf(w, "       %-20s [%g, %g]\n", c, e.T0T1[i][0], e.T0T1[i][1])
			}
		}
		for _, pm := range e.ProbeMap {
			fmt.Fprintf(w, "       probe %s_%d (%s) %s\n", pm.Name, pm.Reference, pm.Type, strings.Join(pm.DeviceStrings, " "))
		}
	}
	if len(r.Probes) > 0 {
		fmt.Fprintf(w, "\nProbes (%d):\n", len(r.Probes))
		for _, p := range r.Probes {
			fmt.Fprintf(w, "  %s_%d  %-12s %s\n", p.Name, p.Reference, p.Type, p.ID)
		}
	}
	return nil
}

// NewEpochsCommand creates the epochs command.
func NewEpochsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EpochsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "epochs <daqsystem.yaml>",
		Short: "List the epochs a DAQ system finds in the session directory",
		Long: `List the epochs a DAQ system finds in the session directory, with
their clocks, intervals and probe maps.

The DAQ system file names the reader and the navigator's file match
patterns:

  name: intan1
  reader: synthetic
  navigator:
    file_match_patterns: ['rec_#\.bin', 'rec_#\.epochprobemap\.txt']
    metadata_file_pattern: 'rec_#\.epochprobemap\.txt'

Examples:
  ndi epochs --dir ./session1 intan1.yaml
  ndi epochs --dir ./session1 intan1.yaml --probes --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEpochs(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Probes, "probes", false, "also list the probes")

	return cmd
}

func runEpochs(opts *EpochsOptions, configPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	sys, err := buildSystem(opts.RootOptions, configPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to build DAQ system", err)
	}
	table, err := sys.EpochTable(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to build epoch table", err)
	}
	formatter.VerboseLog("%s: %d epoch(s)", sys.Name(), len(table))

	result := EpochsResult{System: sys.Name(), Root: sys.Navigator().Root(), Epochs: table}
	if opts.Probes {
		probes, err := sys.Probes(cmd.Context())
		if err != nil {
			return formatter.Fail(ExitCommandError, "failed to list probes", err)
		}
		result.Probes = make([]ProbeSummary, 0, len(probes))
		for _, p := range probes {
			result.Probes = append(result.Probes, ProbeSummary{
				ID: p.ID(), Name: p.Name, Reference: p.Reference, Type: p.Type, Subject: p.SubjectString,
			})
		}
	}
	return formatter.Success(result)
}

// buildSystem loads a DAQ system file and builds the system over opts.Dir.
func buildSystem(opts *RootOptions, configPath string) (*daq.System, error) {
	cfg, err := daq.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	readers := opts.Readers
	if readers == nil {
		readers = DefaultReaders()
	}
	return readers.Build(cfg, opts.Dir, nil)
}
