package query

import (
	"regexp"
	"strings"

	"github.com/roach88/ndicore/internal/ir"
)

// Matcher is a validated query with its regular expressions compiled.
// It is safe for concurrent use.
type Matcher struct {
	q       Query
	regexps map[string]*regexp.Regexp
}

// Compile validates q and prepares it for evaluation.
func Compile(q Query) (*Matcher, error) {
	if err := Validate(q); err != nil {
		return nil, err
	}
	m := &Matcher{q: q, regexps: make(map[string]*regexp.Regexp)}
	if err := m.prepare(q); err != nil {
		return nil, err
	}
	return m, nil
}

// Match evaluates q against a document tree. Prefer Compile when the same
// query runs over many documents.
func Match(q Query, tree ir.IRObject) (bool, error) {
	m, err := Compile(q)
	if err != nil {
		return false, err
	}
	return m.Match(tree), nil
}

// Query returns the compiled query.
func (m *Matcher) Query() Query { return m.q }

func (m *Matcher) prepare(q Query) error {
	switch node := q.(type) {
	case Predicate:
		if node.Op != OpMatch && node.Op != OpRegexp {
			return nil
		}
		pattern := string(node.Value.(ir.IRString))
		key := regexpKey(node.Op, pattern)
		if _, ok := m.regexps[key]; ok {
			return nil
		}
		expr := pattern
		if node.Op == OpRegexp {
			expr = `^(?:` + pattern + `)$`
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return err
		}
		m.regexps[key] = re
	case And:
		for _, t := range node.Terms {
			if err := m.prepare(t); err != nil {
				return err
			}
		}
	case Or:
		for _, t := range node.Terms {
			if err := m.prepare(t); err != nil {
				return err
			}
		}
	}
	return nil
}

func regexpKey(op Op, pattern string) string {
	return string(op) + "\x00" + pattern
}

// Match reports whether the document tree satisfies the query.
func (m *Matcher) Match(tree ir.IRObject) bool {
	return m.eval(m.q, tree)
}

func (m *Matcher) eval(q Query, tree ir.IRObject) bool {
	switch node := q.(type) {
	case And:
		for _, t := range node.Terms {
			if !m.eval(t, tree) {
				return false
			}
		}
		return true
	case Or:
		for _, t := range node.Terms {
			if m.eval(t, tree) {
				return true
			}
		}
		return false
	case Predicate:
		return m.evalPredicate(node, tree)
	}
	return false
}

func (m *Matcher) evalPredicate(p Predicate, tree ir.IRObject) bool {
	switch p.Op {
	case OpIsA:
		return isA(tree, string(p.Value.(ir.IRString)))
	case OpDependsOn:
		return dependsOn(tree, p.Field, string(p.Value.(ir.IRString)))
	}

	got, ok := ir.Lookup(tree, p.Field)
	if p.Op == OpExists {
		return ok == bool(p.Value.(ir.IRBool))
	}
	if !ok {
		return false
	}

	switch p.Op {
	case OpEqual:
		return ir.Equal(got, p.Value)
	case OpNotEqual:
		return !ir.Equal(got, p.Value)
	case OpContains:
		return contains(got, p.Value)
	case OpMatch, OpRegexp:
		s, ok := got.(ir.IRString)
		if !ok {
			return false
		}
		re := m.regexps[regexpKey(p.Op, string(p.Value.(ir.IRString)))]
		return re.MatchString(string(s))
	case OpGreater, OpGreaterEq, OpLess, OpLessEq:
		c, ok := ir.Compare(got, p.Value)
		if !ok {
			return false
		}
		switch p.Op {
		case OpGreater:
			return c > 0
		case OpGreaterEq:
			return c >= 0
		case OpLess:
			return c < 0
		default:
			return c <= 0
		}
	case OpIn:
		for _, want := range p.Value.(ir.IRArray) {
			if ir.Equal(got, want) {
				return true
			}
		}
		return false
	case OpExactString:
		s, ok := got.(ir.IRString)
		return ok && s == p.Value.(ir.IRString)
	}
	return false
}

func contains(got, want ir.IRValue) bool {
	switch g := got.(type) {
	case ir.IRString:
		w, ok := want.(ir.IRString)
		return ok && strings.Contains(string(g), string(w))
	case ir.IRArray:
		for _, el := range g {
			if ir.Equal(el, want) {
				return true
			}
		}
	}
	return false
}

func isA(tree ir.IRObject, class string) bool {
	cls, ok := tree["class"].(ir.IRObject)
	if !ok {
		return false
	}
	if name, ok := cls["name"].(ir.IRString); ok && string(name) == class {
		return true
	}
	supers, _ := cls["superclasses"].(ir.IRArray)
	for _, s := range supers {
		if name, ok := s.(ir.IRString); ok && string(name) == class {
			return true
		}
	}
	return false
}

func dependsOn(tree ir.IRObject, name, id string) bool {
	edges, _ := tree["depends_on"].(ir.IRArray)
	for _, e := range edges {
		edge, ok := e.(ir.IRObject)
		if !ok {
			continue
		}
		value, _ := edge["value"].(ir.IRString)
		if string(value) != id || id == "" {
			continue
		}
		if name == DependsOnAny {
			return true
		}
		if n, _ := edge["name"].(ir.IRString); string(n) == name {
			return true
		}
	}
	return false
}
