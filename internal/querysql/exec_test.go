package querysql_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/querysql"
	"github.com/roach88/ndicore/internal/store/sqlstore"
)

// Every compiled statement must be accepted by SQLite, not just match a
// golden string.
func TestCompile_ExecutesOnSQLite(t *testing.T) {
	ctx := context.Background()
	b, err := sqlstore.OpenSQLite(filepath.Join(t.TempDir(), "q.db"))
	require.NoError(t, err)
	defer b.Close()

	doc := document.New("probe", "", document.WithName("ctx1"),
		document.WithBranch("app", ir.Obj(
			ir.O("a", ir.IRBool(true)),
			ir.O("n", ir.IRInt(3)),
			ir.O("tags", ir.Strings("x", "y")),
		)))
	require.NoError(t, b.Put(ctx, doc))

	queries := map[string]query.Query{
		"golden and":   query.MustAllOf(query.Q("app.a").Eq(true), query.Q("base.name").Eq("A")),
		"golden or":    query.MustAnyOf(query.IsA("probe"), query.DependsOn(query.DependsOnAny, "abc"), query.Q("app.tags").Contains("x")),
		"exists":       query.Q("app.n").Exists(true),
		"not exists":   query.Q("app.zz").Exists(false),
		"numeric":      query.Q("app.n").Ge(2),
		"string order": query.Q("base.name").Lt("m"),
		"regexp":       query.Q("base.name").Regexp("ctx[0-9]"),
		"match":        query.Q("base.name").Match("^ctx"),
		"not equal":    query.Q("app.n").NotEq(1.5),
		"in":           query.Q("app.n").In(1, 3),
		"exact string": query.Q("base.name").ExactString("ctx1"),
		"array index":  query.Q("app.tags.0").Eq("x"),
		"depends_on":   query.DependsOn("probe_id", "abc"),
		"null":         query.Q("app.n").Eq(nil),
		"empty and":    query.And{},
	}
	want := map[string]int{
		"golden and": 0, "golden or": 1, "exists": 1, "not exists": 1, "numeric": 1,
		"string order": 1, "regexp": 1, "match": 1, "not equal": 1, "in": 1,
		"exact string": 1, "array index": 1, "depends_on": 0, "null": 0, "empty and": 1,
	}

	c := querysql.NewCompiler(querysql.SQLite)
	for name, q := range queries {
		t.Run(name, func(t *testing.T) {
			sql, params, err := c.Compile(q)
			require.NoError(t, err)
			rows, err := b.DB().QueryContext(ctx, sql, params...)
			require.NoError(t, err, sql)
			defer rows.Close()
			n := 0
			for rows.Next() {
				n++
			}
			require.NoError(t, rows.Err())
			assert.Equal(t, want[name], n, sql)
		})
	}
}
