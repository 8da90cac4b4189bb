package store

import (
	"context"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/query"
)

// Backend is the persistence layer under a Store. Backends store documents
// and their dependency index; they do not check integrity, which is the
// Store's job.
//
// Each single-document change must be atomic.
type Backend interface {
	// Name identifies the backend in logs ("fs", "sqlite", "postgres").
	Name() string

	// Get returns the stored document or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*document.Document, error)

	// Has reports whether id is stored.
	Has(ctx context.Context, id string) (bool, error)

	// Put inserts or replaces doc, replacing its outgoing dependency edges.
	// Edges with an empty value are not indexed.
	Put(ctx context.Context, doc *document.Document) error

	// Remove deletes the document and its outgoing edges. Removing a missing
	// id returns NOT_FOUND.
	Remove(ctx context.Context, id string) error

	// Dependents returns the ids of documents with an edge to id, sorted.
	Dependents(ctx context.Context, id string) ([]string, error)

	// Find returns the documents matching q, ordered by id.
	Find(ctx context.Context, q query.Query) ([]*document.Document, error)

	// IDs returns every stored id, sorted.
	IDs(ctx context.Context) ([]string, error)

	Close() error
}
