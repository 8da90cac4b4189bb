package sqlstore

import (
	"context"
	"fmt"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/querysql"
)

// Put inserts or replaces doc and rewrites its class and edge rows in one
// transaction.
func (b *Backend) Put(ctx context.Context, doc *document.Document) error {
	body, err := marshalBody(doc)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put document: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	bodyParam := "?"
	if b.dialect == querysql.Postgres {
		bodyParam = "?::jsonb"
	}
	_, err = tx.ExecContext(ctx, rebind(b.dialect, `
		INSERT INTO documents (id, session_id, class_name, body)
		VALUES (?, ?, ?, `+bodyParam+`)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			class_name = excluded.class_name,
			body = excluded.body
	`), doc.ID(), doc.SessionID(), doc.ClassName(), body)
	if err != nil {
		return fmt.Errorf("put document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, rebind(b.dialect, `DELETE FROM document_classes WHERE doc_id = ?`), doc.ID()); err != nil {
		return fmt.Errorf("put document: clear classes: %w", err)
	}
	seen := map[string]bool{}
	for _, name := range append([]string{doc.ClassName()}, doc.Class.Superclasses...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if _, err := tx.ExecContext(ctx, rebind(b.dialect, `INSERT INTO document_classes (doc_id, class_name) VALUES (?, ?)`), doc.ID(), name); err != nil {
			return fmt.Errorf("put document: class %s: %w", name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, rebind(b.dialect, `DELETE FROM depends_on WHERE doc_id = ?`), doc.ID()); err != nil {
		return fmt.Errorf("put document: clear edges: %w", err)
	}
	for _, dep := range doc.DependsOn {
		if dep.Value == "" {
			continue
		}
		_, err := tx.ExecContext(ctx, rebind(b.dialect, `
			INSERT INTO depends_on (doc_id, name, target_id) VALUES (?, ?, ?)
			ON CONFLICT(doc_id, name) DO UPDATE SET target_id = excluded.target_id
		`), doc.ID(), dep.Name, dep.Value)
		if err != nil {
			return fmt.Errorf("put document: edge %s: %w", dep.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put document: commit: %w", err)
	}
	return nil
}

// Remove deletes the document row; class and edge rows go with it.
func (b *Backend) Remove(ctx context.Context, id string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove document: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, stmt := range []string{
		`DELETE FROM document_classes WHERE doc_id = ?`,
		`DELETE FROM depends_on WHERE doc_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, rebind(b.dialect, stmt), id); err != nil {
			return fmt.Errorf("remove document: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, rebind(b.dialect, `DELETE FROM documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	if n == 0 {
		return ndierr.NotFound("sqlstore.remove", "document", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("remove document: commit: %w", err)
	}
	return nil
}
