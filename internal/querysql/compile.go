// Package querysql compiles document queries to parameterized SQL over the
// document tables used by internal/store/sqlstore:
//
//	documents(id, session_id, class_name, body)
//	document_classes(doc_id, class_name)
//	depends_on(doc_id, name, target_id)
//
// body holds the document tree as JSON (TEXT on SQLite, JSONB on
// Postgres). Every query orders by id so results are deterministic.
package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
)

// Dialect selects the SQL flavor.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// RegexpFunc is the SQL function sqlstore registers on SQLite connections.
// It takes (pattern, subject) and uses Go's regexp package, so `match` and
// `regexp` agree with the in-memory evaluator.
const RegexpFunc = "ndi_regexp"

// Compiler compiles queries to parameterized SQL.
//
// Values are always bound as parameters, never interpolated.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler creates a compiler for dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Compile converts q to a SELECT returning (id, body) for matching
// documents, ordered by id.
func (c *Compiler) Compile(q query.Query) (string, []any, error) {
	where, params, err := c.CompileWhere(q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT d.id, d.body FROM documents d WHERE %s ORDER BY %s", where, c.orderKey()), params, nil
}

// CompileIDs is like Compile but selects only ids.
func (c *Compiler) CompileIDs(q query.Query) (string, []any, error) {
	where, params, err := c.CompileWhere(q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("SELECT d.id FROM documents d WHERE %s ORDER BY %s", where, c.orderKey()), params, nil
}

// CompileWhere compiles q to a WHERE fragment over the alias d.
func (c *Compiler) CompileWhere(q query.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := query.Validate(q); err != nil {
		return "", nil, err
	}
	b := &builder{dialect: c.Dialect}
	sql, err := b.compile(q)
	if err != nil {
		return "", nil, err
	}
	return sql, b.params, nil
}

// orderKey uses byte-wise collation on both dialects.
func (c *Compiler) orderKey() string {
	if c.Dialect == Postgres {
		return `d.id COLLATE "C" ASC`
	}
	return "d.id COLLATE BINARY ASC"
}

// builder accumulates parameters while compiling one query.
type builder struct {
	dialect Dialect
	params  []any
}

// arg binds v and returns its placeholder.
func (b *builder) arg(v any) string {
	b.params = append(b.params, v)
	if b.dialect == Postgres {
		return "$" + strconv.Itoa(len(b.params))
	}
	return "?"
}

func (b *builder) compile(q query.Query) (string, error) {
	switch node := q.(type) {
	case query.And:
		return b.compileTerms(node.Terms, " AND ", "1 = 1")
	case query.Or:
		return b.compileTerms(node.Terms, " OR ", "1 = 0")
	case query.Predicate:
		return b.compilePredicate(node)
	default:
		return "", fmt.Errorf("unsupported query type: %T", q)
	}
}

func (b *builder) compileTerms(terms []query.Query, sep, empty string) (string, error) {
	if len(terms) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		sql, err := b.compile(t)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+sql+")")
	}
	return strings.Join(parts, sep), nil
}

func (b *builder) compilePredicate(p query.Predicate) (string, error) {
	switch p.Op {
	case query.OpIsA:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM document_classes dc WHERE dc.doc_id = d.id AND dc.class_name = %s)",
			b.arg(string(p.Value.(ir.IRString)))), nil
	case query.OpDependsOn:
		id := string(p.Value.(ir.IRString))
		if id == "" {
			return "1 = 0", nil
		}
		if p.Field == query.DependsOnAny {
			return fmt.Sprintf("EXISTS (SELECT 1 FROM depends_on e WHERE e.doc_id = d.id AND e.target_id = %s)", b.arg(id)), nil
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM depends_on e WHERE e.doc_id = d.id AND e.name = %s AND e.target_id = %s)",
			b.arg(p.Field), b.arg(id)), nil
	}

	segs, err := ir.SplitPath(p.Field)
	if err != nil {
		return "", ndierr.Invalid("querysql.compile", "%v", err)
	}
	f, err := b.field(segs)
	if err != nil {
		return "", err
	}

	switch p.Op {
	case query.OpExists:
		if bool(p.Value.(ir.IRBool)) {
			return f.typeOf() + " IS NOT NULL", nil
		}
		return f.typeOf() + " IS NULL", nil
	case query.OpEqual:
		return b.equal(f, p.Value)
	case query.OpNotEqual:
		typ := f.typeOf()
		eq, err := b.equal(f, p.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IS NOT NULL AND NOT (%s)", typ, eq), nil
	case query.OpIn:
		arr := p.Value.(ir.IRArray)
		if len(arr) == 0 {
			return "1 = 0", nil
		}
		parts := make([]string, 0, len(arr))
		for _, v := range arr {
			eq, err := b.equal(f, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+eq+")")
		}
		return strings.Join(parts, " OR "), nil
	case query.OpExactString:
		return fmt.Sprintf("%s = %s AND %s = %s", f.typeOf(), b.typeName(kindString), f.text(), b.arg(string(p.Value.(ir.IRString)))), nil
	case query.OpMatch, query.OpRegexp:
		pattern := string(p.Value.(ir.IRString))
		if p.Op == query.OpRegexp {
			pattern = `^(?:` + pattern + `)$`
		}
		if b.dialect == Postgres {
			return fmt.Sprintf("%s = 'string' AND %s ~ %s", f.typeOf(), f.text(), b.arg(pattern)), nil
		}
		return fmt.Sprintf("%s = 'text' AND %s(%s, %s)", f.typeOf(), RegexpFunc, b.arg(pattern), f.text()), nil
	case query.OpContains:
		return b.contains(f, p.Value)
	case query.OpGreater, query.OpGreaterEq, query.OpLess, query.OpLessEq:
		return b.compare(f, p.Op, p.Value)
	}
	return "", fmt.Errorf("unsupported operator: %s", p.Op)
}

type valueKind int

const (
	kindString valueKind = iota
	kindNull
	kindArray
	kindObject
)

// typeName is the json_type/jsonb_typeof result for a kind.
func (b *builder) typeName(k valueKind) string {
	pg := b.dialect == Postgres
	switch k {
	case kindString:
		if pg {
			return "'string'"
		}
		return "'text'"
	case kindNull:
		return "'null'"
	case kindArray:
		return "'array'"
	case kindObject:
		return "'object'"
	}
	return ""
}

// numeric compares a number field. Postgres may evaluate either side of an
// AND first, so the cast is guarded by CASE and never sees a non-number.
func (b *builder) numeric(f fieldRef, op string, v ir.IRValue) string {
	if b.dialect == Postgres {
		return fmt.Sprintf("CASE WHEN %s = 'number' THEN %s %s %s ELSE false END", f.typeOf(), f.number(), op, b.numberArg(v))
	}
	return fmt.Sprintf("%s IN ('integer', 'real') AND %s %s %s", f.typeOf(), f.number(), op, b.numberArg(v))
}

func (b *builder) equal(f fieldRef, v ir.IRValue) (string, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return fmt.Sprintf("%s = %s", f.typeOf(), b.typeName(kindNull)), nil
	case ir.IRBool:
		if b.dialect == Postgres {
			return fmt.Sprintf("%s = 'boolean' AND %s = %s", f.typeOf(), f.text(), b.arg(strconv.FormatBool(bool(val)))), nil
		}
		return fmt.Sprintf("%s = '%t'", f.typeOf(), bool(val)), nil
	case ir.IRString:
		return fmt.Sprintf("%s = %s AND %s = %s", f.typeOf(), b.typeName(kindString), f.text(), b.arg(string(val))), nil
	case ir.IRInt, ir.IRFloat:
		return b.numeric(f, "=", val), nil
	case ir.IRArray, ir.IRObject:
		data, err := ir.MarshalIRValue(val)
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		kind := kindObject
		if _, ok := val.(ir.IRArray); ok {
			kind = kindArray
		}
		if b.dialect == Postgres {
			return fmt.Sprintf("%s = %s AND %s = %s::jsonb", f.typeOf(), b.typeName(kind), f.json(), b.arg(string(data))), nil
		}
		return fmt.Sprintf("%s = %s AND %s = json(%s)", f.typeOf(), b.typeName(kind), f.json(), b.arg(string(data))), nil
	}
	return "", fmt.Errorf("unsupported value type for SQL parameter: %T", v)
}

func (b *builder) numberArg(v ir.IRValue) string {
	var n any
	switch val := v.(type) {
	case ir.IRInt:
		n = int64(val)
	case ir.IRFloat:
		n = float64(val)
	}
	if b.dialect == Postgres {
		return b.arg(n) + "::numeric"
	}
	return b.arg(n)
}

func (b *builder) compare(f fieldRef, op query.Op, v ir.IRValue) (string, error) {
	switch v.(type) {
	case ir.IRInt, ir.IRFloat:
		return b.numeric(f, string(op), v), nil
	case ir.IRString:
		s := string(v.(ir.IRString))
		if b.dialect == Postgres {
			return fmt.Sprintf(`%s = 'string' AND %s COLLATE "C" %s %s`, f.typeOf(), f.text(), op, b.arg(s)), nil
		}
		return fmt.Sprintf("%s = 'text' AND %s %s %s COLLATE BINARY", f.typeOf(), f.text(), op, b.arg(s)), nil
	}
	return "", fmt.Errorf("%s needs a number or string, got %s", op, ir.TypeName(v))
}

func (b *builder) contains(f fieldRef, v ir.IRValue) (string, error) {
	var parts []string
	if s, ok := v.(ir.IRString); ok {
		if b.dialect == Postgres {
			parts = append(parts, fmt.Sprintf("%s = 'string' AND strpos(%s, %s) > 0", f.typeOf(), f.text(), b.arg(string(s))))
		} else {
			parts = append(parts, fmt.Sprintf("%s = 'text' AND instr(%s, %s) > 0", f.typeOf(), f.text(), b.arg(string(s))))
		}
	}

	if b.dialect == Postgres {
		data, err := ir.MarshalIRValue(ir.IRArray{v})
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		parts = append(parts, fmt.Sprintf("%s = 'array' AND %s @> %s::jsonb", f.typeOf(), f.json(), b.arg(string(data))))
	} else {
		typ, path := f.typeOf(), b.arg(f.path)
		elem, err := b.elementEqual(v)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("%s = 'array' AND EXISTS (SELECT 1 FROM json_each(d.body, %s) je WHERE %s)", typ, path, elem))
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, ") OR (") + ")", nil
}

// elementEqual matches a json_each row against v (SQLite only).
func (b *builder) elementEqual(v ir.IRValue) (string, error) {
	switch val := v.(type) {
	case nil, ir.IRNull:
		return "je.type = 'null'", nil
	case ir.IRBool:
		return fmt.Sprintf("je.type = '%t'", bool(val)), nil
	case ir.IRString:
		return "je.type = 'text' AND je.value = " + b.arg(string(val)), nil
	case ir.IRInt, ir.IRFloat:
		return "je.type IN ('integer', 'real') AND je.value = " + b.numberArg(val), nil
	case ir.IRArray, ir.IRObject:
		data, err := ir.MarshalIRValue(val)
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		return "je.type IN ('array', 'object') AND je.value = json(" + b.arg(string(data)) + ")", nil
	}
	return "", fmt.Errorf("unsupported value type for SQL parameter: %T", v)
}
