// Package query is the document query language: a small AST of field
// predicates combined with AND/OR, a builder for writing queries in Go, and
// the in-memory evaluator. internal/querysql compiles the same AST to SQL.
//
// Fields are dotted paths into the document tree ("base.session_id",
// "element.reference"). A predicate on a path that does not resolve is
// false, except `exists` with value false, which is true.
package query

import (
	"fmt"
	"strings"

	"github.com/roach88/ndicore/internal/ir"
)

// Query is a node of the query AST.
//
// This is a sealed interface - only Predicate, And and Or implement it, so
// backend compilers can switch over it exhaustively.
type Query interface {
	queryNode() // Marker method - seals interface to this package
	String() string
}

// Op is a predicate operator.
type Op string

const (
	OpEqual       Op = "=="
	OpNotEqual    Op = "!="
	OpContains    Op = "contains"
	OpMatch       Op = "match"
	OpGreater     Op = ">"
	OpGreaterEq   Op = ">="
	OpLess        Op = "<"
	OpLessEq      Op = "<="
	OpExists      Op = "exists"
	OpIn          Op = "in"
	OpIsA         Op = "isa"
	OpDependsOn   Op = "depends_on"
	OpExactString Op = "exact_string"
	OpRegexp      Op = "regexp"
)

// Ops lists every operator, in documentation order.
var Ops = []Op{
	OpEqual, OpNotEqual, OpContains, OpMatch, OpGreater, OpGreaterEq, OpLess, OpLessEq,
	OpExists, OpIn, OpIsA, OpDependsOn, OpExactString, OpRegexp,
}

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	for _, o := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// DependsOnAny is the edge name that matches every edge in a depends_on
// predicate.
const DependsOnAny = "*"

// Predicate is a leaf: Field Op Value.
//
// For isa, Field is ignored and Value is the class name. For depends_on,
// Field is the edge name (or DependsOnAny) and Value the target id.
type Predicate struct {
	Field string
	Op    Op
	Value ir.IRValue

	err error // conversion error from the builder
}

func (Predicate) queryNode() {}

// Resolved reports whether the predicate has an operator.
func (p Predicate) Resolved() bool {
	return p.Op != "" && p.err == nil
}

func (p Predicate) String() string {
	if p.Op == "" {
		return fmt.Sprintf("%s <unresolved>", p.Field)
	}
	val, err := ir.MarshalIRValue(p.Value)
	if err != nil {
		val = []byte(fmt.Sprintf("%v", p.Value))
	}
	switch p.Op {
	case OpIsA:
		return fmt.Sprintf("isa %s", val)
	case OpDependsOn:
		return fmt.Sprintf("depends_on %s %s", p.Field, val)
	}
	return fmt.Sprintf("%s %s %s", p.Field, p.Op, val)
}

// And is true when every term is true. An empty And is true.
type And struct {
	Terms []Query
}

func (And) queryNode() {}

func (a And) String() string { return joinTerms(a.Terms, " & ") }

// Or is true when any term is true. An empty Or is false.
type Or struct {
	Terms []Query
}

func (Or) queryNode() {}

func (o Or) String() string { return joinTerms(o.Terms, " | ") }

func joinTerms(terms []Query, sep string) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		s := t.String()
		switch t.(type) {
		case And, Or:
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}
