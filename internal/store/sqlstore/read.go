package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/querysql"
)

func (b *Backend) idOrder(col string) string {
	if b.dialect == querysql.Postgres {
		return col + ` COLLATE "C" ASC`
	}
	return col + " COLLATE BINARY ASC"
}

func (b *Backend) Get(ctx context.Context, id string) (*document.Document, error) {
	var body []byte
	err := b.db.QueryRowContext(ctx, rebind(b.dialect, `SELECT body FROM documents WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ndierr.NotFound("sqlstore.get", "document", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return unmarshalBody(id, body)
}

func (b *Backend) Has(ctx context.Context, id string) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, rebind(b.dialect, `SELECT COUNT(*) FROM documents WHERE id = ?`), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query document: %w", err)
	}
	return n > 0, nil
}

// Dependents reads the depends_on index by target.
func (b *Backend) Dependents(ctx context.Context, id string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, rebind(b.dialect, `
		SELECT DISTINCT doc_id FROM depends_on
		WHERE target_id = ?
		ORDER BY `+b.idOrder("doc_id")), id)
	if err != nil {
		return nil, fmt.Errorf("query dependents: %w", err)
	}
	return scanIDs(rows)
}

func (b *Backend) IDs(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY `+b.idOrder("id"))
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	return scanIDs(rows)
}

// Find compiles q to SQL and decodes the matching bodies.
func (b *Backend) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	stmt, params, err := b.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*document.Document
	for rows.Next() {
		var (
			id   string
			body []byte
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := unmarshalBody(id, body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
