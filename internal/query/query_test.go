package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

func docTree(name string, app ir.IRObject) ir.IRObject {
	return ir.Obj(
		ir.O("base", ir.Obj(
			ir.O("id", ir.IRString("id-"+name)),
			ir.O("session_id", ir.IRString("sess")),
			ir.O("name", ir.IRString(name)),
		)),
		ir.O("class", ir.Obj(
			ir.O("name", ir.IRString("channel")),
			ir.O("superclasses", ir.Strings("element", "base")),
		)),
		ir.O("depends_on", ir.IRArray{
			ir.Obj(ir.O("name", ir.IRString("probe_id")), ir.O("value", ir.IRString("p1"))),
			ir.Obj(ir.O("name", ir.IRString("subject_id")), ir.O("value", ir.IRString(""))),
		}),
		ir.O("app", app),
	)
}

func matchNames(t *testing.T, q Query, trees []ir.IRObject) []string {
	t.Helper()
	m, err := Compile(q)
	require.NoError(t, err)
	var out []string
	for _, tree := range trees {
		if m.Match(tree) {
			name, _ := ir.Lookup(tree, "base.name")
			out = append(out, string(name.(ir.IRString)))
		}
	}
	return out
}

func TestCombinators(t *testing.T) {
	docs := []ir.IRObject{
		docTree("A", ir.Obj(ir.O("a", ir.IRBool(true)), ir.O("b", ir.IRBool(true)))),
		docTree("B", ir.Obj(ir.O("a", ir.IRBool(false)), ir.O("b", ir.IRBool(false)))),
		docTree("C", ir.Obj(ir.O("a", ir.IRBool(true)), ir.O("b", ir.IRBool(false)))),
	}

	and, err := AllOf(Q("app.a").Eq(true), Q("base.name").Eq("A"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, matchNames(t, and, docs))

	or, err := AnyOf(Q("app.a").Eq(true), Q("app.b").Eq(false))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, matchNames(t, or, docs))
}

func TestOperators(t *testing.T) {
	tree := docTree("ctx1", ir.Obj(
		ir.O("ref", ir.IRInt(3)),
		ir.O("gain", ir.IRFloat(2.5)),
		ir.O("label", ir.IRString("Cortex-1")),
		ir.O("tags", ir.Strings("good", "sorted")),
		ir.O("nums", ir.IRArray{ir.IRInt(1), ir.IRInt(2)}),
		ir.O("nothing", ir.IRNull{}),
	))

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"eq int", Q("app.ref").Eq(3), true},
		{"eq int vs float", Q("app.ref").Eq(3.0), true},
		{"eq miss", Q("app.ref").Eq(4), false},
		{"eq null", Q("app.nothing").Eq(nil), true},
		{"noteq", Q("app.ref").NotEq(4), true},
		{"noteq missing field", Q("app.absent").NotEq(4), false},
		{"contains substring", Q("app.label").Contains("tex"), true},
		{"contains element", Q("app.tags").Contains("sorted"), true},
		{"contains number element", Q("app.nums").Contains(2), true},
		{"contains miss", Q("app.tags").Contains("bad"), false},
		{"match unanchored", Q("app.label").Match(`tex-\d`), true},
		{"regexp anchored miss", Q("app.label").Regexp(`tex-\d`), false},
		{"regexp anchored hit", Q("app.label").Regexp(`Cor.*-\d`), true},
		{"match non-string", Q("app.ref").Match(`3`), false},
		{"gt", Q("app.ref").Gt(2), true},
		{"ge", Q("app.ref").Ge(3), true},
		{"lt float", Q("app.gain").Lt(3), true},
		{"le", Q("app.gain").Le(2.4), false},
		{"gt string", Q("app.label").Gt("Alpha"), true},
		{"gt number vs string", Q("app.ref").Gt("1"), false},
		{"exists true", Q("app.ref").Exists(true), true},
		{"exists false on missing", Q("app.absent").Exists(false), true},
		{"exists false on present", Q("app.ref").Exists(false), false},
		{"in", Q("app.ref").In(1, 3, 5), true},
		{"in miss", Q("app.ref").In("3"), false},
		{"exact string", Q("app.label").ExactString("Cortex-1"), true},
		{"exact string number", Q("app.ref").ExactString("3"), false},
		{"array index", Q("app.tags.1").Eq("sorted"), true},
		{"isa own class", IsA("channel"), true},
		{"isa superclass", IsA("base"), true},
		{"isa other", IsA("probe"), false},
		{"depends_on named", DependsOn("probe_id", "p1"), true},
		{"depends_on wildcard", DependsOn(DependsOnAny, "p1"), true},
		{"depends_on wrong name", DependsOn("subject_id", "p1"), false},
		{"depends_on empty value", DependsOn("subject_id", ""), false},
		{"missing path", Q("nope.deeper").Eq(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Match(tt.q, tree)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, tt.q.String())
		})
	}
}

func TestEmptyComposites(t *testing.T) {
	tree := docTree("x", ir.IRObject{})
	got, err := Match(And{}, tree)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = Match(Or{}, tree)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestCombine_Unresolved(t *testing.T) {
	_, err := AllOf(Q("app.a").Eq(true), Q("app.b"))
	require.Error(t, err)
	assert.True(t, ndierr.Is(err, ndierr.KindQueryUnresolved))

	_, err = AnyOf(Q("app.a"))
	assert.True(t, ndierr.Is(err, ndierr.KindQueryUnresolved))

	_, err = Match(Q("app.a"), ir.IRObject{})
	assert.True(t, ndierr.Is(err, ndierr.KindQueryUnresolved))
}

func TestCombine_Flattens(t *testing.T) {
	inner := MustAllOf(Q("a").Eq(1), Q("b").Eq(2))
	outer, err := AllOf(inner, Q("c").Eq(3))
	require.NoError(t, err)
	and, ok := outer.(And)
	require.True(t, ok)
	assert.Len(t, and.Terms, 3)

	mixed, err := AnyOf(inner, Q("c").Eq(3))
	require.NoError(t, err)
	or := mixed.(Or)
	assert.Len(t, or.Terms, 2)
	assert.Equal(t, "(a == 1 & b == 2) | c == 3", mixed.String())
}

func TestBuilder_UnsupportedValue(t *testing.T) {
	p := Q("a").Eq(struct{}{})
	assert.False(t, p.Resolved())
	_, err := AllOf(p)
	assert.True(t, ndierr.Is(err, ndierr.KindQueryUnresolved))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		q    Query
	}{
		{"bad regexp", Q("a").Match("(")},
		{"exists non-bool", Predicate{Field: "a", Op: OpExists, Value: ir.IRString("yes")}},
		{"in non-array", Predicate{Field: "a", Op: OpIn, Value: ir.IRInt(1)}},
		{"unknown op", Predicate{Field: "a", Op: "~=", Value: ir.IRInt(1)}},
		{"empty segment", Q("a..b").Eq(1)},
		{"isa empty", IsA("")},
		{"depends_on no name", DependsOn("", "x")},
		{"compare bool", Q("a").Gt(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.q)
			require.Error(t, err)
			assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument), "got %v", err)
		})
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"element.reference >= 2", "element.reference >= 2"},
		{"base.name == ctx1", `base.name == "ctx1"`},
		{"base.name match ^ctx", `base.name match "^ctx"`},
		{"app.flag == true & base.name == A", `app.flag == true & base.name == "A"`},
		{"isa probe | depends_on * abc", `isa "probe" | depends_on * "abc"`},
		{"app.a == 1 & app.b == 2 | app.c == 3", `(app.a == 1 & app.b == 2) | app.c == 3`},
		{`app.k in [1,"x"]`, `app.k in [1,"x"]`},
		{"app.label exact_string 12", `app.label exact_string "12"`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			q, err := Parse(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{"base.name", "a ~= 1", "isa", "depends_on x", "a in 3"} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			assert.Error(t, err)
		})
	}
}
