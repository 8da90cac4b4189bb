package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/store"
)

// DepsOptions holds flags for the deps command.
type DepsOptions struct {
	*RootOptions
	Depth int
}

// DepNode is one document in a dependency tree.
type DepNode struct {
	ID       string    `json:"id"`
	Edge     string    `json:"edge,omitempty"` // dependency name linking it to its parent
	Class    string    `json:"class,omitempty"`
	Name     string    `json:"name,omitempty"`
	Missing  bool      `json:"missing,omitempty"`
	Children []DepNode `json:"children,omitempty"`
}

// DepsResult holds the dependencies and dependents of one document.
type DepsResult struct {
	Root       DepNode  `json:"root"`
	Dependents []string `json:"dependents"`
}

func (r DepsResult) RenderText(w io.Writer) error {
	writeDepNode(w, r.Root, 0)
	fmt.Fprintf(w, "\nDependents (%d):\n", len(r.Dependents))
	for _, id := range r.Dependents {
		fmt.Fprintf(w, "  %s\n", id)
	}
	return nil
}

func writeDepNode(w io.Writer, n DepNode, depth int) {
	indent := strings.Repeat("  ", depth)
	label := n.ID
	if n.Edge != "" {
		label = n.Edge + " -> " + n.ID
	}
	switch {
	case n.Missing:
		fmt.Fprintf(w, "%s%s [missing]\n", indent, label)
	default:
		fmt.Fprintf(w, "%s%s (%s) %s\n", indent, label, n.Class, n.Name)
	}
	for _, c := range n.Children {
		writeDepNode(w, c, depth+1)
	}
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DepsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "deps <doc-id>",
		Short: "Show a document's dependency tree",
		Long: `Show the documents a document depends on, recursively, and the
documents that depend on it directly.

Examples:
  ndi deps 0193a6e1c2b87f0e9d4c5a6b7c8d9e0f
  ndi deps 0193a6e1c2b87f0e9d4c5a6b7c8d9e0f --depth 1 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "maximum tree depth (0 = unlimited)")

	return cmd
}

func runDeps(opts *DepsOptions, id string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	st, err := openStore(ctx, opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	if _, err := st.FindByID(ctx, id); err != nil {
		return formatter.Fail(ExitCommandError, "document lookup failed", err)
	}
	root, err := dependencyTree(ctx, st, id, "", opts.Depth, 0, map[string]bool{})
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to walk dependencies", err)
	}
	dependents, err := st.Dependents(ctx, id)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to list dependents", err)
	}
	if dependents == nil {
		dependents = []string{}
	}
	return formatter.Success(DepsResult{Root: root, Dependents: dependents})
}

// dependencyTree expands id's dependencies depth-first. A document already
// on the current path is not expanded again.
func dependencyTree(ctx context.Context, st *store.Store, id, edge string, maxDepth, depth int, onPath map[string]bool) (DepNode, error) {
	node := DepNode{ID: id, Edge: edge}
	d, err := st.FindByID(ctx, id)
	if err != nil {
		if ndierr.Is(err, ndierr.KindNotFound) {
			node.Missing = true
			return node, nil
		}
		return node, err
	}
	node.Class, node.Name = d.ClassName(), d.Base.Name
	if onPath[id] || (maxDepth > 0 && depth >= maxDepth) {
		return node, nil
	}
	onPath[id] = true
	defer delete(onPath, id)

	for _, dep := range d.DependsOn {
		if dep.Value == "" {
			continue
		}
		child, err := dependencyTree(ctx, st, dep.Value, dep.Name, maxDepth, depth+1, onPath)
		if err != nil {
			return node, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}
