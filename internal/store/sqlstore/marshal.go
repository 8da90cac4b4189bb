package sqlstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/querysql"
)

// marshalBody renders the document tree as JSON TEXT. Integral floats keep
// their ".0" so the numeric type survives a round trip.
func marshalBody(doc *document.Document) (string, error) {
	data, err := ir.MarshalIRValue(doc.Tree())
	if err != nil {
		return "", fmt.Errorf("marshal body: %w", err)
	}
	return string(data), nil
}

// unmarshalBody parses a stored body back into a document. Large integers
// are decoded through json.Number so they keep full precision.
func unmarshalBody(id string, data []byte) (*document.Document, error) {
	v, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal body of %s: %w", id, err)
	}
	tree, ok := v.(ir.IRObject)
	if !ok {
		return nil, fmt.Errorf("unmarshal body of %s: got %s, want object", id, ir.TypeName(v))
	}
	doc, err := document.FromTree(tree)
	if err != nil {
		return nil, fmt.Errorf("unmarshal body of %s: %w", id, err)
	}
	return doc, nil
}

// rebind rewrites ? placeholders to $n for Postgres. Statements passed here
// never contain literal question marks.
func rebind(d querysql.Dialect, stmt string) string {
	if d != querysql.Postgres {
		return stmt
	}
	var sb strings.Builder
	n := 0
	for _, r := range stmt {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
