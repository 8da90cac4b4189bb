package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/schema"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/fsstore"
)

type response[T any] struct {
	Status string    `json:"status"`
	Data   T         `json:"data"`
	Error  *CLIError `json:"error"`
}

func decode[T any](t *testing.T, out string) response[T] {
	t.Helper()
	var resp response[T]
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	return resp
}

func testID(n int) string { return fmt.Sprintf("%032x", n) }

func subjectDoc() *document.Document {
	return document.New("subject", "sess1",
		document.WithID(testID(1)),
		document.WithName("mouse1"),
		document.WithBranch("subject", ir.Obj(ir.O("local_identifier", ir.IRString("mouse1@lab.org")))),
	)
}

func noteDoc(subjectID string) *document.Document {
	d := document.New("base", "sess1", document.WithID(testID(2)), document.WithName("surgery notes"))
	d.SetDependency("subject_id", subjectID)
	return d
}

// writeDocFiles writes each document as JSON and returns the paths.
func writeDocFiles(t *testing.T, docs ...*document.Document) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(docs))
	for i, d := range docs {
		data, err := d.MarshalJSON()
		require.NoError(t, err)
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc%d.json", i+1))
		require.NoError(t, os.WriteFile(paths[i], data, 0o644))
	}
	return paths
}

func TestAddFindDeps(t *testing.T) {
	dir := t.TempDir()
	paths := writeDocFiles(t, subjectDoc(), noteDoc(testID(1)))

	out, err := execute(t, append([]string{"--dir", dir, "--format", "json", "add"}, paths...)...)
	require.NoError(t, err)
	added := decode[AddResult](t, out)
	assert.Equal(t, []string{testID(1), testID(2)}, added.Data.Added)

	out, err = execute(t, "--dir", dir, "--format", "json", "find", "isa subject")
	require.NoError(t, err)
	found := decode[FindResult](t, out)
	require.Equal(t, 1, found.Data.Count)
	assert.Equal(t, DocSummary{ID: testID(1), Class: "subject", Name: "mouse1", SessionID: "sess1"}, found.Data.Matches[0])
	assert.Empty(t, found.Data.Documents)

	out, err = execute(t, "--dir", dir, "find")
	require.NoError(t, err)
	assert.Contains(t, out, "2 document(s)")

	out, err = execute(t, "--dir", dir, "--format", "json", "find", "base.name match ^surgery", "--full")
	require.NoError(t, err)
	found = decode[FindResult](t, out)
	require.Len(t, found.Data.Documents, 1)
	assert.Equal(t, "base", found.Data.Documents[0].ClassName())
	assert.Equal(t, testID(1), mustDependency(t, found.Data.Documents[0], "subject_id"))

	out, err = execute(t, "--dir", dir, "deps", testID(2))
	require.NoError(t, err)
	assert.Contains(t, out, "subject_id -> "+testID(1)+" (subject) mouse1")

	out, err = execute(t, "--dir", dir, "--format", "json", "deps", testID(1))
	require.NoError(t, err)
	deps := decode[DepsResult](t, out)
	assert.Equal(t, []string{testID(2)}, deps.Data.Dependents)
	assert.Empty(t, deps.Data.Root.Children)
}

func mustDependency(t *testing.T, d *document.Document, name string) string {
	t.Helper()
	v, ok := d.Dependency(name)
	require.True(t, ok, name)
	return v
}

func TestAdd_MissingDependency(t *testing.T) {
	paths := writeDocFiles(t, noteDoc(testID(1)))

	_, err := execute(t, "--dir", t.TempDir(), "add", paths[0])
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyMissing), err.Error())
}

func TestAdd_SchemaViolation(t *testing.T) {
	bad := document.New("subject", "sess1", document.WithID(testID(3)),
		document.WithBranch("subject", ir.Obj(ir.O("local_identifier", ir.IRString("")))))
	paths := writeDocFiles(t, bad)

	out, err := execute(t, "--dir", t.TempDir(), "--format", "json", "add", paths[0])
	require.Error(t, err)
	resp := decode[any](t, out)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "SCHEMA_VIOLATION", resp.Error.Code)
}

func TestFind_InvalidQuery(t *testing.T) {
	_, err := execute(t, "--dir", t.TempDir(), "find", "nonsense")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFind_Explain(t *testing.T) {
	out, err := execute(t, "--format", "json", "find", "isa probe", "--explain", "postgres")
	require.NoError(t, err)
	resp := decode[ExplainResult](t, out)
	assert.Equal(t, "postgres", resp.Data.Dialect)
	assert.Contains(t, resp.Data.SQL, "SELECT")
	assert.NotEmpty(t, resp.Data.Params)

	_, err = execute(t, "find", "isa probe", "--explain", "oracle")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFind_SQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ndi.db")
	paths := writeDocFiles(t, subjectDoc())

	_, err := execute(t, "--dir", dir, "--db", db, "add", paths[0])
	require.NoError(t, err)

	out, err := execute(t, "--dir", dir, "--db", db, "--format", "json", "find", "subject.local_identifier match ^mouse1")
	require.NoError(t, err)
	assert.Equal(t, 1, decode[FindResult](t, out).Data.Count)

	_, err = execute(t, "--db", db, "--postgres", "postgres://localhost/ndi", "find")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st, err := fsstore.Open(dir, store.WithRegistry(schema.MustNewRegistry()))
	require.NoError(t, err)
	subj := subjectDoc()
	require.NoError(t, st.Add(ctx, subj))
	require.NoError(t, subj.SetPayload("subject.description", ir.IRString("head-fixed")))
	next, err := st.SaveUpdates(ctx, subj)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--dir", dir, "--format", "json", "history", next.ID())
	require.NoError(t, err)
	hist := decode[HistoryResult](t, out)
	require.Len(t, hist.Data.Versions, 2)
	assert.Equal(t, testID(1), hist.Data.Versions[0].ID)
	assert.False(t, hist.Data.Versions[0].Latest)
	assert.Equal(t, next.ID(), hist.Data.Versions[1].ID)
	assert.Equal(t, testID(1), hist.Data.Versions[1].ParentID)
	assert.True(t, hist.Data.Versions[1].Latest)

	out, err = execute(t, "--dir", dir, "history", next.ID())
	require.NoError(t, err)
	assert.Contains(t, out, "* 1  "+next.ID())

	_, err = execute(t, "--dir", dir, "history", testID(99))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	paths := writeDocFiles(t, subjectDoc(), noteDoc(testID(1)))
	_, err := execute(t, append([]string{"--dir", dir, "add"}, paths...)...)
	require.NoError(t, err)

	out, err := execute(t, "--dir", dir, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 document(s), no problems found")

	out, err = execute(t, "--dir", dir, "--format", "json", "verify")
	require.NoError(t, err)
	resp := decode[VerifyResult](t, out)
	assert.True(t, resp.Data.OK)
	assert.Equal(t, 2, resp.Data.Documents)
	assert.Empty(t, resp.Data.Dangling)
}
