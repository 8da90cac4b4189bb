package querysql

import (
	"strings"

	"github.com/roach88/ndicore/internal/ndierr"
)

// fieldRef renders one dotted field path against d.body. Each accessor binds
// the path again, since SQLite placeholders are positional.
type fieldRef struct {
	b    *builder
	path string   // SQLite JSON path
	segs []string // Postgres text[] path
}

func (b *builder) field(segs []string) (fieldRef, error) {
	if b.dialect == Postgres {
		return fieldRef{b: b, segs: segs}, nil
	}
	path, err := sqlitePath(segs)
	if err != nil {
		return fieldRef{}, err
	}
	return fieldRef{b: b, path: path}, nil
}

// sqlitePath renders segments as $."a"."b"[0]. All-digit segments index
// arrays.
func sqlitePath(segs []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("$")
	for _, s := range segs {
		if isIndex(s) {
			sb.WriteString("[" + s + "]")
			continue
		}
		if strings.ContainsAny(s, `"\`) {
			return "", ndierr.Invalid("querysql.compile", "field segment %q cannot be addressed in SQLite", s)
		}
		sb.WriteString(`."` + s + `"`)
	}
	return sb.String(), nil
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (f fieldRef) bindPath() string {
	if f.b.dialect == Postgres {
		return f.b.arg(f.segs) + "::text[]"
	}
	return f.b.arg(f.path)
}

// typeOf is the JSON type name of the field, NULL when it does not resolve.
func (f fieldRef) typeOf() string {
	if f.b.dialect == Postgres {
		return "jsonb_typeof(d.body #> " + f.bindPath() + ")"
	}
	return "json_type(d.body, " + f.bindPath() + ")"
}

// text is the field as an SQL scalar (unquoted text for strings).
func (f fieldRef) text() string {
	if f.b.dialect == Postgres {
		return "(d.body #>> " + f.bindPath() + ")"
	}
	return "json_extract(d.body, " + f.bindPath() + ")"
}

func (f fieldRef) number() string {
	if f.b.dialect == Postgres {
		return "(d.body #>> " + f.bindPath() + ")::numeric"
	}
	return "json_extract(d.body, " + f.bindPath() + ")"
}

// json is the field as JSON, for comparing arrays and objects.
func (f fieldRef) json() string {
	if f.b.dialect == Postgres {
		return "(d.body #> " + f.bindPath() + ")"
	}
	return "json_extract(d.body, " + f.bindPath() + ")"
}
