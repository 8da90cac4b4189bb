package sqlstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/querysql"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/storetest"
)

// createTestBackend opens a SQLite backend in a temp dir.
func createTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *store.Store {
		dir := t.TempDir()
		s, err := Open(filepath.Join(dir, "ndi.db"), filepath.Join(dir, "binary"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_Idempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ndi.db")
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	d := storetest.NewDoc("probe", "p")
	require.NoError(t, b.Put(ctx, d))
	require.NoError(t, b.Close())

	b, err = OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()
	has, err := b.Has(ctx, d.ID())
	require.NoError(t, err)
	assert.True(t, has)
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := OpenSQLite("/nonexistent/dir/ndi.db")
	assert.Error(t, err)
}

func TestClose_MultipleCalls(t *testing.T) {
	b, err := OpenSQLite(filepath.Join(t.TempDir(), "ndi.db"))
	require.NoError(t, err)
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}

func TestPragmas(t *testing.T) {
	b := createTestBackend(t)
	tests := []struct{ name, want string }{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NoError(t, b.verifyPragma(tt.name, tt.want))
		})
	}
}

func TestSchema_Tables(t *testing.T) {
	b := createTestBackend(t)
	for _, table := range []string{"documents", "document_classes", "depends_on"} {
		var name string
		err := b.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}
	var idx string
	err := b.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_depends_on_target'`).Scan(&idx)
	require.NoError(t, err)
}

func TestSchema_NewerVersionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndi.db")
	b, err := OpenSQLite(path)
	require.NoError(t, err)
	_, err = b.DB().Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = OpenSQLite(path)
	assert.ErrorContains(t, err, "newer than supported")
}

func TestPut_IndexesClassesAndEdges(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)
	d := storetest.NewDoc("channel", "c")
	d.Class.Superclasses = []string{"element", "base"}
	d.SetDependency("probe_id", "p1")
	d.SetDependency("unset", "")
	require.NoError(t, b.Put(ctx, d))

	var classes int
	require.NoError(t, b.DB().QueryRow(`SELECT COUNT(*) FROM document_classes WHERE doc_id = ?`, d.ID()).Scan(&classes))
	assert.Equal(t, 3, classes)

	deps, err := b.Dependents(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID()}, deps)

	d.SetDependency("probe_id", "p2")
	require.NoError(t, b.Put(ctx, d))
	deps, err = b.Dependents(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)
	d := storetest.NewDoc("channel", "c")
	d.SetDependency("probe_id", "p1")
	require.NoError(t, b.Put(ctx, d))
	require.NoError(t, b.Remove(ctx, d.ID()))

	var edges int
	require.NoError(t, b.DB().QueryRow(`SELECT COUNT(*) FROM depends_on`).Scan(&edges))
	assert.Zero(t, edges)

	err := b.Remove(ctx, d.ID())
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func TestBody_PreservesNumericTypes(t *testing.T) {
	ctx := context.Background()
	b := createTestBackend(t)
	d := storetest.NewDoc("probe", "p", ir.O("probe", ir.Obj(
		ir.O("whole", ir.IRFloat(2)),
		ir.O("count", ir.IRInt(2)),
		ir.O("big", ir.IRInt(1<<60+1)),
	)))
	require.NoError(t, b.Put(ctx, d))
	got, err := b.Get(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, d.Tree(), got.Tree())

	found, err := b.Find(ctx, query.Q("probe.whole").Eq(2))
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestFind_InvalidRegexp(t *testing.T) {
	b := createTestBackend(t)
	_, err := b.Find(context.Background(), query.Q("base.name").Regexp("("))
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument), "got %v", err)
}

func TestRebind(t *testing.T) {
	stmt := `SELECT * FROM t WHERE a = ? AND b = ?`
	assert.Equal(t, stmt, rebind(querysql.SQLite, stmt))
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, rebind(querysql.Postgres, stmt))
}

func TestRegexpMatch(t *testing.T) {
	ok, err := regexpMatch(`^(?:ctx-\d+)$`, "ctx-12")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = regexpMatch(`\d`, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = regexpMatch("(", "x")
	assert.Error(t, err)
}
