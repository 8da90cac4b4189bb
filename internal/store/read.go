package store

import (
	"context"
	"fmt"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/query"
)

// FindByID returns the document with id or a NOT_FOUND error.
func (s *Store) FindByID(ctx context.Context, id string) (*document.Document, error) {
	s.graph.RLock()
	defer s.graph.RUnlock()
	return s.backend.Get(ctx, id)
}

// Has reports whether id is stored.
func (s *Store) Has(ctx context.Context, id string) (bool, error) {
	s.graph.RLock()
	defer s.graph.RUnlock()
	return s.backend.Has(ctx, id)
}

// Find returns the documents matching q, ordered by id.
func (s *Store) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	s.graph.RLock()
	defer s.graph.RUnlock()

	docs, err := s.backend.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store.find: %w", err)
	}
	return docs, nil
}

// IDs returns every stored id, sorted.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	s.graph.RLock()
	defer s.graph.RUnlock()
	return s.backend.IDs(ctx)
}

// Dependents returns the ids of documents that depend directly on id.
func (s *Store) Dependents(ctx context.Context, id string) ([]string, error) {
	s.graph.RLock()
	defer s.graph.RUnlock()
	return s.backend.Dependents(ctx, id)
}
