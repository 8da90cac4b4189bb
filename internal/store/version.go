package store

import (
	"context"
	"fmt"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
)

// SaveUpdates stores doc as a new version of the document with the same id.
// The stored document is marked as no longer latest, and the successor is
// inserted under a fresh id with parent_id, asc_path and version_depth
// advanced. The successor is returned.
func (s *Store) SaveUpdates(ctx context.Context, doc *document.Document) (*document.Document, error) {
	const op = "store.save_updates"

	current, err := s.FindByID(ctx, doc.ID())
	if err != nil {
		return nil, err
	}
	current.Metadata.LatestVersion = false
	if err := s.Update(ctx, current); err != nil {
		return nil, fmt.Errorf("%s: retire %s: %w", op, current.ID(), err)
	}

	next := doc.NextVersion(s.ids.Generate())
	if err := s.Add(ctx, next); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("document versioned", "doc_id", next.ID(), "parent_id", current.ID(),
		"version_depth", next.Metadata.VersionDepth)
	return next, nil
}

// GetHistory returns the stored versions of doc, oldest first and ending
// with doc's own stored record. Versions that were deleted are skipped.
func (s *Store) GetHistory(ctx context.Context, doc *document.Document) ([]*document.Document, error) {
	var out []*document.Document
	for _, id := range doc.History() {
		v, err := s.FindByID(ctx, id)
		if ndierr.Is(err, ndierr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store.get_history: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
