package query

import (
	"fmt"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Q starts a predicate on a dotted field path. The result is unresolved
// until one of its operator methods is called:
//
//	q, err := query.AllOf(query.Q("app.a").Eq(true), query.Q("base.name").Eq("A"))
func Q(field string) Predicate {
	return Predicate{Field: field}
}

func (p Predicate) with(op Op, value any) Predicate {
	v, err := ir.FromAny(value)
	out := Predicate{Field: p.Field, Op: op, Value: v}
	if err != nil {
		out.err = fmt.Errorf("%s %s: %w", p.Field, op, err)
	}
	return out
}

// Eq is structural equality.
func (p Predicate) Eq(v any) Predicate { return p.with(OpEqual, v) }

// NotEq is structural inequality. Missing fields do not match.
func (p Predicate) NotEq(v any) Predicate { return p.with(OpNotEqual, v) }

// Contains matches when v is a substring of a string field or an element of
// an array field.
func (p Predicate) Contains(v any) Predicate { return p.with(OpContains, v) }

// Match matches a string field against a regular expression anywhere in it.
func (p Predicate) Match(pattern string) Predicate { return p.with(OpMatch, pattern) }

// Regexp matches a string field against a regular expression anchored at
// both ends.
func (p Predicate) Regexp(pattern string) Predicate { return p.with(OpRegexp, pattern) }

// Gt is numeric or lexicographic >.
func (p Predicate) Gt(v any) Predicate { return p.with(OpGreater, v) }

// Ge is numeric or lexicographic >=.
func (p Predicate) Ge(v any) Predicate { return p.with(OpGreaterEq, v) }

// Lt is numeric or lexicographic <.
func (p Predicate) Lt(v any) Predicate { return p.with(OpLess, v) }

// Le is numeric or lexicographic <=.
func (p Predicate) Le(v any) Predicate { return p.with(OpLessEq, v) }

// Exists tests whether the path resolves (want=true) or not (want=false).
func (p Predicate) Exists(want bool) Predicate { return p.with(OpExists, want) }

// In matches when the field equals one of values.
func (p Predicate) In(values ...any) Predicate { return p.with(OpIn, values) }

// ExactString matches a string field equal to s. Numbers never match.
func (p Predicate) ExactString(s string) Predicate { return p.with(OpExactString, s) }

// IsA matches documents of class name or of a class inheriting from it.
func IsA(class string) Predicate {
	return Predicate{Op: OpIsA, Value: ir.IRString(class)}
}

// DependsOn matches documents with an edge called name pointing at id.
// name may be DependsOnAny.
func DependsOn(name, id string) Predicate {
	return Predicate{Field: name, Op: OpDependsOn, Value: ir.IRString(id)}
}

// AllOf combines queries with AND. Operands that are themselves And are
// flattened into the result. It fails with QUERY_UNRESOLVED if any operand
// is an unresolved predicate.
func AllOf(qs ...Query) (Query, error) {
	terms, err := flatten(qs, func(q Query) ([]Query, bool) {
		a, ok := q.(And)
		return a.Terms, ok
	})
	if err != nil {
		return nil, err
	}
	return And{Terms: terms}, nil
}

// AnyOf combines queries with OR, flattening Or operands.
func AnyOf(qs ...Query) (Query, error) {
	terms, err := flatten(qs, func(q Query) ([]Query, bool) {
		o, ok := q.(Or)
		return o.Terms, ok
	})
	if err != nil {
		return nil, err
	}
	return Or{Terms: terms}, nil
}

// MustAllOf is like AllOf but panics on error. Use in tests and for
// queries built from constants.
func MustAllOf(qs ...Query) Query {
	q, err := AllOf(qs...)
	if err != nil {
		panic(err)
	}
	return q
}

// MustAnyOf is like AnyOf but panics on error.
func MustAnyOf(qs ...Query) Query {
	q, err := AnyOf(qs...)
	if err != nil {
		panic(err)
	}
	return q
}

func flatten(qs []Query, same func(Query) ([]Query, bool)) ([]Query, error) {
	out := make([]Query, 0, len(qs))
	for _, q := range qs {
		if q == nil {
			return nil, ndierr.New(ndierr.KindQueryUnresolved, "query.combine", "nil query operand")
		}
		if p, ok := q.(Predicate); ok && !p.Resolved() {
			return nil, unresolvedError(p)
		}
		if inner, ok := same(q); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func unresolvedError(p Predicate) error {
	if p.err != nil {
		return &ndierr.Error{Kind: ndierr.KindQueryUnresolved, Op: "query.combine", Message: p.Field, Err: p.err}
	}
	return &ndierr.Error{
		Kind:    ndierr.KindQueryUnresolved,
		Op:      "query.combine",
		Message: fmt.Sprintf("predicate on %q has no operator", p.Field),
	}
}
