package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
)

const labSchema = `
package lab

class: spikesorting: {
	parents: ["element"]
	schema: spikesorting: {
		algorithm: "kilosort" | "mountainsort"
		threshold: number
	}
}
`

func writeSchemaDir(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lab.cue"), []byte(src), 0o644))
	return dir
}

func sortingDoc(id int, algorithm string) *document.Document {
	return document.New("spikesorting", "sess1",
		document.WithID(testID(id)),
		document.WithBranch("element", ir.Obj(
			ir.O("name", ir.IRString("sorter")),
			ir.O("reference", ir.IRInt(0)),
			ir.O("type", ir.IRString("spikes")),
		)),
		document.WithBranch("spikesorting", ir.Obj(
			ir.O("algorithm", ir.IRString(algorithm)),
			ir.O("threshold", ir.IRFloat(4.5)),
		)),
	)
}

func TestSchemaValidate(t *testing.T) {
	dir := writeSchemaDir(t, labSchema)
	docs := writeDocFiles(t, sortingDoc(1, "kilosort"))

	out, err := execute(t, "schema", "validate", dir, docs[0])
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All schemas valid")
	assert.Contains(t, out, "1 document(s)")

	out, err = execute(t, "--format", "json", "schema", "validate", dir)
	require.NoError(t, err)
	resp := decode[ValidationResult](t, out)
	assert.True(t, resp.Data.Valid)
	assert.Contains(t, resp.Data.Classes, ClassInfo{Name: "spikesorting", Superclasses: []string{"element", "base"}})
}

func TestSchemaValidate_InvalidDocument(t *testing.T) {
	dir := writeSchemaDir(t, labSchema)
	docs := writeDocFiles(t, sortingDoc(1, "kilosort"), sortingDoc(2, "guesswork"))

	out, err := execute(t, "--format", "json", "schema", "validate", dir, docs[0], docs[1])
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decode[ValidationResult](t, out)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, docs[1], resp.Data.Errors[0].File)
	assert.Equal(t, "SCHEMA_VIOLATION", resp.Data.Errors[0].Code)
}

func TestSchemaValidate_BadSchemas(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown parent", "package lab\n\nclass: widget: {\n\tparents: [\"gadget\"]\n\tschema: {}\n}\n"},
		{"self inheritance", "package lab\n\nclass: loop: {\n\tparents: [\"loop\"]\n\tschema: {}\n}\n"},
		{"syntax error", "package lab\n\nclass: {\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "schema", "validate", writeSchemaDir(t, tt.src))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
		})
	}

	_, err := execute(t, "schema", "validate", filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSchemaClasses(t *testing.T) {
	out, err := execute(t, "schema", "classes")
	require.NoError(t, err)
	assert.Contains(t, out, "probe < element < base\n")
	assert.Contains(t, out, "base\n")

	out, err = execute(t, "--schemas", writeSchemaDir(t, labSchema), "schema", "classes")
	require.NoError(t, err)
	assert.Contains(t, out, "spikesorting < element < base\n")
}
