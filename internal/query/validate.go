package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Validate checks that every predicate in q is resolved and well formed:
// a known operator, a parseable field path, and a value of the shape the
// operator needs. All problems are reported together.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	if v.unresolved != nil {
		return v.unresolved
	}
	if len(v.problems) == 0 {
		return nil
	}
	return ndierr.New(ndierr.KindInvalidArgument, "query.validate", strings.Join(v.problems, "; "))
}

// validator accumulates problems during traversal.
type validator struct {
	problems   []string
	unresolved error
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch node := q.(type) {
	case nil:
		v.addProblem("nil query")
	case Predicate:
		v.validatePredicate(node)
	case And:
		for _, t := range node.Terms {
			v.validateQuery(t)
		}
	case Or:
		for _, t := range node.Terms {
			v.validateQuery(t)
		}
	default:
		v.addProblem("unknown query node %T", q)
	}
}

func (v *validator) validatePredicate(p Predicate) {
	if !p.Resolved() {
		if v.unresolved == nil {
			v.unresolved = unresolvedError(p)
		}
		return
	}
	if !p.Op.Valid() {
		v.addProblem("unknown operator %q", p.Op)
		return
	}

	switch p.Op {
	case OpIsA:
		if s, ok := p.Value.(ir.IRString); !ok || s == "" {
			v.addProblem("isa needs a class name")
		}
		return
	case OpDependsOn:
		if p.Field == "" {
			v.addProblem("depends_on needs an edge name or %q", DependsOnAny)
		}
		if _, ok := p.Value.(ir.IRString); !ok {
			v.addProblem("depends_on %s: value must be a string id", p.Field)
		}
		return
	}

	if _, err := ir.SplitPath(p.Field); err != nil {
		v.addProblem("%s: %v", p.Op, err)
		return
	}

	switch p.Op {
	case OpExists:
		if _, ok := p.Value.(ir.IRBool); !ok {
			v.addProblem("%s exists: value must be a bool", p.Field)
		}
	case OpIn:
		if _, ok := p.Value.(ir.IRArray); !ok {
			v.addProblem("%s in: value must be an array", p.Field)
		}
	case OpMatch, OpRegexp:
		s, ok := p.Value.(ir.IRString)
		if !ok {
			v.addProblem("%s %s: pattern must be a string", p.Field, p.Op)
			return
		}
		if _, err := regexp.Compile(string(s)); err != nil {
			v.addProblem("%s %s: %v", p.Field, p.Op, err)
		}
	case OpExactString:
		if _, ok := p.Value.(ir.IRString); !ok {
			v.addProblem("%s exact_string: value must be a string", p.Field)
		}
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		switch p.Value.(type) {
		case ir.IRInt, ir.IRFloat, ir.IRString:
		default:
			v.addProblem("%s %s: value must be a number or string", p.Field, p.Op)
		}
	}
}
