package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/querysql"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Full    bool
	Explain string // "" | "sqlite" | "postgres"
}

// DocSummary is one row of find output.
type DocSummary struct {
	ID        string `json:"id"`
	Class     string `json:"class"`
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
}

func summarize(d *document.Document) DocSummary {
	return DocSummary{ID: d.ID(), Class: d.ClassName(), Name: d.Base.Name, SessionID: d.SessionID()}
}

// FindResult holds find output. Documents is set with --full.
type FindResult struct {
	Query     string               `json:"query"`
	Count     int                  `json:"count"`
	Matches   []DocSummary         `json:"matches"`
	Documents []*document.Document `json:"documents,omitempty"`
}

func (r FindResult) RenderText(w io.Writer) error {
	if r.Documents != nil {
		for _, d := range r.Documents {
			data, err := d.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
		}
		return nil
	}
	for _, m := range r.Matches {
		fmt.Fprintf(w, "%s  %-20s %s\n", m.ID, m.Class, m.Name)
	}
	fmt.Fprintf(w, "%d document(s)\n", r.Count)
	return nil
}

// ExplainResult is the SQL a query compiles to.
type ExplainResult struct {
	Dialect string `json:"dialect"`
	SQL     string `json:"sql"`
	Params  []any  `json:"params"`
}

func (r ExplainResult) RenderText(w io.Writer) error {
	fmt.Fprintln(w, r.SQL)
	for i, p := range r.Params {
		fmt.Fprintf(w, "  $%d = %v\n", i+1, p)
	}
	return nil
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find [query]",
		Short: "Search the document store",
		Long: `Search the document store. With no query every document matches.

Clauses are "field op value", "isa class" or "depends_on name id", joined
with " & " and " | ".

Example:
  ndi find 'isa probe'
  ndi find 'element.reference >= 2 & base.name match ^ctx' --format json
  ndi find 'isa element' --explain postgres`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr := ""
			if len(args) == 1 {
				expr = args[0]
			}
			return runFind(opts, expr, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "print whole documents")
	cmd.Flags().StringVar(&opts.Explain, "explain", "", "print the SQL for a dialect (sqlite|postgres) instead of searching")

	return cmd
}

func runFind(opts *FindOptions, expr string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	q, err := query.Parse(expr)
	if err != nil {
		return formatter.Fail(ExitCommandError, "invalid query", err)
	}

	if opts.Explain != "" {
		return explain(formatter, opts.Explain, q)
	}

	st, err := openStore(cmd.Context(), opts.RootOptions)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to open store", err)
	}
	defer closeStore(st)

	docs, err := st.Find(cmd.Context(), q)
	if err != nil {
		return formatter.Fail(ExitCommandError, "search failed", err)
	}
	formatter.VerboseLog("query %s matched %d document(s)", q, len(docs))

	result := FindResult{Query: q.String(), Count: len(docs), Matches: make([]DocSummary, 0, len(docs))}
	for _, d := range docs {
		result.Matches = append(result.Matches, summarize(d))
	}
	if opts.Full {
		result.Documents = docs
	}
	return formatter.Success(result)
}

func explain(formatter *OutputFormatter, dialect string, q query.Query) error {
	var d querysql.Dialect
	switch strings.ToLower(dialect) {
	case "sqlite":
		d = querysql.SQLite
	case "postgres":
		d = querysql.Postgres
	default:
		return formatter.Fail(ExitCommandError, "invalid --explain",
			fmt.Errorf("unknown dialect %q: must be sqlite or postgres", dialect))
	}
	sql, params, err := querysql.NewCompiler(d).Compile(q)
	if err != nil {
		return formatter.Fail(ExitCommandError, "query does not compile", err)
	}
	if params == nil {
		params = []any{}
	}
	return formatter.Success(ExplainResult{Dialect: d.String(), SQL: sql, Params: params})
}
