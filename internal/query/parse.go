package query

import (
	"strings"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Parse reads the textual query form used by the CLI:
//
//	element.reference >= 2 & base.name match ^ctx
//	isa probe | depends_on * 0f3a...
//
// Clauses are "field op value", "isa class" or "depends_on name id".
// " & " binds tighter than " | "; there are no parentheses. A value that
// parses as JSON is used as-is, anything else is a string. The value of
// `in` must be a JSON array.
func Parse(expr string) (Query, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return And{}, nil
	}

	var anyTerms []Query
	for _, alt := range strings.Split(expr, " | ") {
		var allTerms []Query
		for _, clause := range strings.Split(alt, " & ") {
			p, err := ParseClause(clause)
			if err != nil {
				return nil, err
			}
			allTerms = append(allTerms, p)
		}
		if len(allTerms) == 1 {
			anyTerms = append(anyTerms, allTerms[0])
			continue
		}
		q, err := AllOf(allTerms...)
		if err != nil {
			return nil, err
		}
		anyTerms = append(anyTerms, q)
	}
	if len(anyTerms) == 1 {
		return anyTerms[0], Validate(anyTerms[0])
	}
	q, err := AnyOf(anyTerms...)
	if err != nil {
		return nil, err
	}
	return q, Validate(q)
}

// ParseClause reads a single predicate.
func ParseClause(clause string) (Predicate, error) {
	const op = "query.parse"

	fields := strings.Fields(clause)
	if len(fields) < 2 {
		return Predicate{}, ndierr.Invalid(op, "clause %q: want \"field op value\"", clause)
	}

	switch Op(fields[0]) {
	case OpIsA:
		if len(fields) != 2 {
			return Predicate{}, ndierr.Invalid(op, "clause %q: want \"isa class\"", clause)
		}
		return IsA(fields[1]), nil
	case OpDependsOn:
		if len(fields) != 3 {
			return Predicate{}, ndierr.Invalid(op, "clause %q: want \"depends_on name id\"", clause)
		}
		return DependsOn(fields[1], fields[2]), nil
	}

	if len(fields) < 3 {
		return Predicate{}, ndierr.Invalid(op, "clause %q: missing value", clause)
	}
	field, o := fields[0], Op(fields[1])
	if !o.Valid() {
		return Predicate{}, ndierr.Invalid(op, "clause %q: unknown operator %q", clause, fields[1])
	}

	// Keep interior spacing of the value.
	raw := strings.TrimSpace(clause)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, field))
	raw = strings.TrimSpace(strings.TrimPrefix(raw, fields[1]))

	var value ir.IRValue = ir.IRString(raw)
	switch o {
	case OpMatch, OpRegexp, OpExactString:
		// Patterns and exact strings are taken literally unless quoted.
		if strings.HasPrefix(raw, `"`) {
			if v, err := ir.UnmarshalIRValue([]byte(raw)); err == nil {
				value = v
			}
		}
	default:
		if v, err := ir.UnmarshalIRValue([]byte(raw)); err == nil {
			value = v
		}
	}
	return Predicate{Field: field, Op: o, Value: value}, nil
}
