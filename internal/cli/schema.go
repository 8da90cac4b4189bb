package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/schema"
)

// SchemaIssue is one document that failed validation.
type SchemaIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds schema validate output.
type ValidationResult struct {
	Valid     bool          `json:"valid"`
	Classes   []ClassInfo   `json:"classes"`
	Documents int           `json:"documents"`
	Errors    []SchemaIssue `json:"errors,omitempty"`
}

// ClassInfo is a registered class and its superclasses.
type ClassInfo struct {
	Name         string   `json:"name"`
	Superclasses []string `json:"superclasses"`
}

func (r ValidationResult) RenderText(w io.Writer) error {
	if r.Valid {
		fmt.Fprintf(w, "✓ All schemas valid (%d classes, %d document(s))\n", len(r.Classes), r.Documents)
		return nil
	}
	fmt.Fprintf(w, "✗ %d document(s) failed validation\n", len(r.Errors))
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s: [%s] %s\n", e.File, e.Code, e.Message)
	}
	return nil
}

// ClassesResult lists the registered classes.
type ClassesResult struct {
	Classes []ClassInfo `json:"classes"`
}

func (r ClassesResult) RenderText(w io.Writer) error {
	for _, c := range r.Classes {
		if len(c.Superclasses) == 0 {
			fmt.Fprintln(w, c.Name)
			continue
		}
		fmt.Fprintf(w, "%s < %s\n", c.Name, strings.Join(c.Superclasses, " < "))
	}
	return nil
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and check document schemas",
	}
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))
	cmd.AddCommand(newSchemaClassesCommand(rootOpts))
	return cmd
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema-dir> [document.json...]",
		Short: "Check CUE document schemas and validate documents against them",
		Long: `Load the CUE document schemas in a directory on top of the built-in
ones, check that every parent class exists and no class inherits from
itself, then validate the given documents.

Exit codes:
  0 - Schemas load and every document is valid
  1 - A document failed validation
  2 - The schemas do not load

Examples:
  ndi schema validate ./schemas
  ndi schema validate ./schemas probe.json element.json --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts, args[0], args[1:], cmd)
		},
	}
}

func newSchemaClassesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List document classes and their superclasses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			reg, err := loadRegistry(rootOpts)
			if err != nil {
				return formatter.Fail(ExitCommandError, "failed to load schemas", err)
			}
			classes, err := classInfos(reg)
			if err != nil {
				return formatter.Fail(ExitCommandError, "failed to load schemas", err)
			}
			return formatter.Success(ClassesResult{Classes: classes})
		},
	}
}

func runSchemaValidate(opts *RootOptions, dir string, docPaths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	reg, err := loadRegistry(opts)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load schemas", err)
	}
	if err := reg.LoadDir(dir); err != nil {
		return formatter.Fail(ExitCommandError, "failed to load schemas from "+dir, err)
	}
	classes, err := classInfos(reg)
	if err != nil {
		return formatter.Fail(ExitCommandError, "failed to load schemas from "+dir, err)
	}
	formatter.VerboseLog("loaded %d classes", len(classes))

	result := ValidationResult{Classes: classes, Documents: len(docPaths)}
	for _, p := range docPaths {
		formatter.VerboseLog("validating %s", p)
		if err := validateDocumentFile(reg, p); err != nil {
			result.Errors = append(result.Errors, SchemaIssue{File: p, Code: ErrorCode(err), Message: err.Error()})
		}
	}
	result.Valid = len(result.Errors) == 0

	if err := formatter.Success(result); err != nil {
		return err
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d document(s) failed validation", len(result.Errors)))
	}
	return nil
}

// validateDocumentFile parses the document at path and checks it against
// reg. Missing superclasses are filled in from the registry first.
func validateDocumentFile(reg *schema.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ndierr.IO("cli.schema_validate", err)
	}
	d, err := document.Parse(data)
	if err != nil {
		return err
	}
	if len(d.Class.Superclasses) == 0 {
		supers, err := reg.Superclasses(d.ClassName())
		if err != nil {
			return err
		}
		d.Class.Superclasses = supers
	}
	return reg.Validate(d)
}

func classInfos(reg *schema.Registry) ([]ClassInfo, error) {
	names := reg.Names()
	out := make([]ClassInfo, 0, len(names))
	for _, n := range names {
		supers, err := reg.Superclasses(n)
		if err != nil {
			return nil, err
		}
		out = append(out, ClassInfo{Name: n, Superclasses: supers})
	}
	return out, nil
}
