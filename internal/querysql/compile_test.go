package querysql

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
)

func render(sql string, params []any) []byte {
	var buf bytes.Buffer
	buf.WriteString(sql)
	buf.WriteByte('\n')
	for i, p := range params {
		fmt.Fprintf(&buf, "$%d = %#v\n", i+1, p)
	}
	return buf.Bytes()
}

func assertGolden(t *testing.T, name string, sql string, params []any) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, render(sql, params))
}

func TestCompile_Golden(t *testing.T) {
	and := query.MustAllOf(query.Q("app.a").Eq(true), query.Q("base.name").Eq("A"))

	sql, params, err := NewCompiler(SQLite).Compile(and)
	require.NoError(t, err)
	assertGolden(t, "sqlite_and", sql, params)

	sql, params, err = NewCompiler(Postgres).Compile(and)
	require.NoError(t, err)
	assertGolden(t, "postgres_and", sql, params)

	or := query.MustAnyOf(query.IsA("probe"), query.DependsOn(query.DependsOnAny, "abc"), query.Q("app.tags").Contains("x"))
	sql, params, err = NewCompiler(SQLite).Compile(or)
	require.NoError(t, err)
	assertGolden(t, "sqlite_or", sql, params)
}

func TestCompile_OrderByMandatory(t *testing.T) {
	queries := []query.Query{
		query.And{},
		query.Or{},
		query.Q("a").Eq(1),
		query.IsA("probe"),
	}
	for _, d := range []Dialect{SQLite, Postgres} {
		for _, q := range queries {
			sql, _, err := NewCompiler(d).Compile(q)
			require.NoError(t, err)
			assert.Contains(t, sql, " ORDER BY d.id", "%s: %s", d, q)
		}
	}
}

func TestCompile_EmptyComposites(t *testing.T) {
	c := NewCompiler(SQLite)

	where, params, err := c.CompileWhere(query.And{})
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", where)
	assert.Empty(t, params)

	where, _, err = c.CompileWhere(query.Or{})
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", where)
}

func TestCompile_ValuesNeverInterpolated(t *testing.T) {
	secret := "x'); DROP TABLE documents; --"
	queries := []query.Query{
		query.Q("base.name").Eq(secret),
		query.Q("base.name").NotEq(secret),
		query.Q("base.name").Contains(secret),
		query.Q("base.name").Match(regexp.QuoteMeta(secret)),
		query.Q("base.name").Regexp(regexp.QuoteMeta(secret)),
		query.Q("base.name").ExactString(secret),
		query.Q("base.name").Gt(secret),
		query.Q("base.name").In(secret, "other"),
		query.IsA(secret),
		query.DependsOn("probe_id", secret),
	}
	for _, d := range []Dialect{SQLite, Postgres} {
		for _, q := range queries {
			sql, params, err := NewCompiler(d).Compile(q)
			require.NoError(t, err, q.String())
			assert.NotContains(t, sql, "DROP TABLE", q.String())
			assert.NotEmpty(t, params)
		}
	}
}

func TestCompile_InvalidPatternRejected(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		_, _, err := NewCompiler(d).Compile(query.Q("base.name").Match("x'); DROP TABLE documents; --"))
		require.Error(t, err)
		assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument), err.Error())
	}
}

func TestCompile_PostgresNumericCastGuarded(t *testing.T) {
	where, params, err := NewCompiler(Postgres).CompileWhere(query.Q("element.reference").Ge(2))
	require.NoError(t, err)
	assert.Equal(t, `CASE WHEN jsonb_typeof(d.body #> $1::text[]) = 'number' THEN (d.body #>> $2::text[])::numeric >= $3::numeric ELSE false END`, where)
	assert.Equal(t, []any{[]string{"element", "reference"}, []string{"element", "reference"}, int64(2)}, params)

	where, _, err = NewCompiler(Postgres).CompileWhere(query.Q("app.n").Eq(1.5))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(where, "CASE WHEN "), where)
	assert.NotContains(t, where, "AND (d.body")
}

func TestCompile_Predicates(t *testing.T) {
	tests := []struct {
		name   string
		q      query.Query
		where  string
		params []any
	}{
		{
			name:   "exists",
			q:      query.Q("app.x").Exists(true),
			where:  `json_type(d.body, ?) IS NOT NULL`,
			params: []any{`$."app"."x"`},
		},
		{
			name:   "not exists",
			q:      query.Q("app.x").Exists(false),
			where:  `json_type(d.body, ?) IS NULL`,
			params: []any{`$."app"."x"`},
		},
		{
			name:   "numeric compare",
			q:      query.Q("element.reference").Ge(2),
			where:  `json_type(d.body, ?) IN ('integer', 'real') AND json_extract(d.body, ?) >= ?`,
			params: []any{`$."element"."reference"`, `$."element"."reference"`, int64(2)},
		},
		{
			name:   "string compare",
			q:      query.Q("base.name").Lt("m"),
			where:  `json_type(d.body, ?) = 'text' AND json_extract(d.body, ?) < ? COLLATE BINARY`,
			params: []any{`$."base"."name"`, `$."base"."name"`, "m"},
		},
		{
			name:   "array index",
			q:      query.Q("files.file_list.0").Eq("a.bin"),
			where:  `json_type(d.body, ?) = 'text' AND json_extract(d.body, ?) = ?`,
			params: []any{`$."files"."file_list"[0]`, `$."files"."file_list"[0]`, "a.bin"},
		},
		{
			name:   "regexp anchored",
			q:      query.Q("base.name").Regexp("ctx[0-9]"),
			where:  `json_type(d.body, ?) = 'text' AND ndi_regexp(?, json_extract(d.body, ?))`,
			params: []any{`$."base"."name"`, "^(?:ctx[0-9])$", `$."base"."name"`},
		},
		{
			name:   "not equal",
			q:      query.Q("app.n").NotEq(1.5),
			where:  `json_type(d.body, ?) IS NOT NULL AND NOT (json_type(d.body, ?) IN ('integer', 'real') AND json_extract(d.body, ?) = ?)`,
			params: []any{`$."app"."n"`, `$."app"."n"`, `$."app"."n"`, 1.5},
		},
		{
			name:   "in empty",
			q:      query.Q("app.n").In(),
			where:  `1 = 0`,
			params: nil,
		},
		{
			name:   "depends_on named",
			q:      query.DependsOn("probe_id", "abc"),
			where:  `EXISTS (SELECT 1 FROM depends_on e WHERE e.doc_id = d.id AND e.name = ? AND e.target_id = ?)`,
			params: []any{"probe_id", "abc"},
		},
		{
			name:   "depends_on empty id",
			q:      query.DependsOn("probe_id", ""),
			where:  `1 = 0`,
			params: nil,
		},
		{
			name:   "null equality",
			q:      query.Q("app.n").Eq(nil),
			where:  `json_type(d.body, ?) = 'null'`,
			params: []any{`$."app"."n"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, params, err := NewCompiler(SQLite).CompileWhere(tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.where, where)
			assert.Equal(t, tt.params, params)
		})
	}
}

func TestCompile_PostgresPlaceholdersNumbered(t *testing.T) {
	q := query.MustAllOf(query.Q("a").Eq(1), query.Q("b").Match("x"), query.IsA("probe"))
	where, params, err := NewCompiler(Postgres).CompileWhere(q)
	require.NoError(t, err)
	for i := range params {
		assert.Contains(t, where, fmt.Sprintf("$%d", i+1))
	}
	assert.NotContains(t, where, "?")
	assert.Contains(t, where, "$1::text[]")
	assert.Contains(t, where, "$3::numeric")
}

func TestCompile_Errors(t *testing.T) {
	_, _, err := NewCompiler(SQLite).Compile(nil)
	assert.Error(t, err)

	_, _, err = NewCompiler(SQLite).Compile(query.Q("a"))
	assert.True(t, ndierr.Is(err, ndierr.KindQueryUnresolved))

	_, _, err = NewCompiler(SQLite).Compile(query.Q(`a"b`).Eq(1))
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}
