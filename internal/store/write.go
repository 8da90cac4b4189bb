package store

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
)

// Add inserts a new document. It fails with ALREADY_EXISTS when the id is
// stored and DEPENDENCY_MISSING when a dependency target is not.
func (s *Store) Add(ctx context.Context, doc *document.Document) error {
	const op = "store.add"
	if err := s.prepare(doc); err != nil {
		return err
	}

	unlock := s.locks.Lock(doc.ID())
	defer unlock()
	s.graph.Lock()
	defer s.graph.Unlock()

	exists, err := s.backend.Has(ctx, doc.ID())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return ndierr.AlreadyExists(op, "document", doc.ID())
	}
	if err := s.checkTargetsLocked(ctx, op, doc); err != nil {
		return err
	}
	if err := s.backend.Put(ctx, doc.Clone()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.logger.Debug("document added", "doc_id", doc.ID(), "class", doc.ClassName(), "backend", s.backend.Name())
	return nil
}

// Update replaces a stored document. The id and class are fixed; documents
// that depend on it keep their edges. New dependency targets must exist and
// must not close a cycle.
func (s *Store) Update(ctx context.Context, doc *document.Document) error {
	const op = "store.update"
	if err := s.prepare(doc); err != nil {
		return err
	}

	unlock := s.locks.Lock(doc.ID())
	defer unlock()
	s.graph.Lock()
	defer s.graph.Unlock()

	old, err := s.backend.Get(ctx, doc.ID())
	if err != nil {
		return err
	}
	if old.ClassName() != doc.ClassName() {
		return &ndierr.Error{
			Kind:    ndierr.KindSchemaViolation,
			Op:      op,
			Entity:  "document",
			ID:      doc.ID(),
			Message: fmt.Sprintf("class.name is fixed: stored %q, got %q", old.ClassName(), doc.ClassName()),
		}
	}
	if err := s.checkTargetsLocked(ctx, op, doc); err != nil {
		return err
	}

	previous := make(map[string]bool)
	for _, id := range old.DependencyIDs() {
		previous[id] = true
	}
	for _, target := range doc.DependencyIDs() {
		if previous[target] {
			continue
		}
		cycle, err := s.reachesLocked(ctx, target, doc.ID())
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if cycle {
			return ndierr.DependencyCycle(op, doc.ID())
		}
	}

	if err := s.backend.Put(ctx, doc.Clone()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Debug("document updated", "doc_id", doc.ID(), "class", doc.ClassName())
	return nil
}

// Upsert adds doc if its id is new and updates it otherwise.
func (s *Store) Upsert(ctx context.Context, doc *document.Document) error {
	exists, err := s.backend.Has(ctx, doc.ID())
	if err != nil {
		return fmt.Errorf("store.upsert: %w", err)
	}
	if exists {
		return s.Update(ctx, doc)
	}
	return s.Add(ctx, doc)
}

// Delete removes a document. Without cascade it fails with CASCADE_REQUIRED
// when other documents depend on it; with cascade every transitive
// dependent is removed first.
func (s *Store) Delete(ctx context.Context, id string, cascade bool) error {
	const op = "store.delete"

	s.graph.Lock()
	defer s.graph.Unlock()

	exists, err := s.backend.Has(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return ndierr.NotFound(op, "document", id)
	}

	order, err := s.cascadeOrderLocked(ctx, []string{id})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(order) > 1 && !cascade {
		return ndierr.CascadeRequired(op, id, len(order)-1)
	}
	for _, victim := range order {
		if err := s.removeLocked(ctx, victim); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// DeleteMany removes every document matching q and returns how many
// documents were removed. Without cascade it fails when a match has a
// dependent outside the match set.
func (s *Store) DeleteMany(ctx context.Context, q query.Query, cascade bool) (int, error) {
	const op = "store.delete_many"

	s.graph.Lock()
	defer s.graph.Unlock()

	docs, err := s.backend.Find(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	matched := make(map[string]bool, len(docs))
	roots := make([]string, 0, len(docs))
	for _, d := range docs {
		matched[d.ID()] = true
		roots = append(roots, d.ID())
	}

	order, err := s.cascadeOrderLocked(ctx, roots)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !cascade {
		outside := 0
		for _, id := range order {
			if !matched[id] {
				outside++
			}
		}
		if outside > 0 {
			return 0, ndierr.CascadeRequired(op, roots[0], outside)
		}
	}
	for _, victim := range order {
		if err := s.removeLocked(ctx, victim); err != nil {
			return 0, fmt.Errorf("%s: %w", op, err)
		}
	}
	return len(order), nil
}

// UpdateMany merges payload into every document matching q and returns the
// number updated. payload may only name schema branches.
func (s *Store) UpdateMany(ctx context.Context, q query.Query, payload ir.IRObject) (int, error) {
	const op = "store.update_many"
	for k := range payload {
		if document.IsReserved(k) {
			return 0, ndierr.Invalid(op, "branch %q is reserved", k)
		}
	}

	docs, err := s.Find(ctx, q)
	if err != nil {
		return 0, err
	}
	for i, doc := range docs {
		if doc.Payload == nil {
			doc.Payload = ir.IRObject{}
		}
		ir.Merge(doc.Payload, payload)
		if err := s.Update(ctx, doc); err != nil {
			return i, err
		}
	}
	return len(docs), nil
}

// AddDependency adds the edge name -> target to a stored document. It fails
// with ALREADY_EXISTS on a duplicate name, DEPENDENCY_MISSING when target
// is not stored and DEPENDENCY_CYCLE when target already reaches id.
func (s *Store) AddDependency(ctx context.Context, id, name, target string) error {
	const op = "store.add_dependency"
	if target == "" {
		return ndierr.Invalid(op, "empty dependency target for %q", name)
	}

	unlock := s.locks.Lock(id)
	defer unlock()
	s.graph.Lock()
	defer s.graph.Unlock()

	doc, err := s.backend.Get(ctx, id)
	if err != nil {
		return err
	}
	exists, err := s.backend.Has(ctx, target)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return ndierr.DependencyMissing(op, target)
	}
	if target == id {
		return ndierr.DependencyCycle(op, id)
	}
	cycle, err := s.reachesLocked(ctx, target, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cycle {
		return ndierr.DependencyCycle(op, id)
	}
	if err := doc.AddDependency(name, target); err != nil {
		return err
	}
	if err := s.backend.Put(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// prepare checks the closed branches and, with a registry, the class
// schema.
func (s *Store) prepare(doc *document.Document) error {
	if doc == nil {
		return ndierr.Invalid("store.prepare", "nil document")
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	if s.registry == nil {
		return nil
	}
	if len(doc.Class.Superclasses) == 0 {
		supers, err := s.registry.Superclasses(doc.ClassName())
		if err != nil {
			return err
		}
		doc.Class.Superclasses = supers
	}
	return s.registry.Validate(doc)
}

func (s *Store) checkTargetsLocked(ctx context.Context, op string, doc *document.Document) error {
	for _, target := range doc.DependencyIDs() {
		ok, err := s.backend.Has(ctx, target)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			return &ndierr.Error{
				Kind:    ndierr.KindDependencyMissing,
				Op:      op,
				Entity:  "document",
				ID:      target,
				Message: fmt.Sprintf("dependency of %s is not stored", doc.ID()),
			}
		}
	}
	return nil
}

// reachesLocked reports whether to is reachable from from by following
// dependency edges forward.
func (s *Store) reachesLocked(ctx context.Context, from, to string) (bool, error) {
	seen := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true, nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		doc, err := s.backend.Get(ctx, id)
		if ndierr.Is(err, ndierr.KindNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		stack = append(stack, doc.DependencyIDs()...)
	}
	return false, nil
}

// cascadeOrderLocked lists roots and all their transitive dependents so that
// every document comes before the documents it depends on.
func (s *Store) cascadeOrderLocked(ctx context.Context, roots []string) ([]string, error) {
	var (
		order   []string
		visited = map[string]bool{}
		visit   func(id string) error
	)
	visit = func(id string) error {
		visited[id] = true
		deps, err := s.backend.Dependents(ctx, id)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if !visited[d] {
				if err := visit(d); err != nil {
					return err
				}
			}
		}
		order = append(order, id)
		return nil
	}
	for _, r := range roots {
		if !visited[r] {
			if err := visit(r); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

func (s *Store) removeLocked(ctx context.Context, id string) error {
	if err := s.backend.Remove(ctx, id); err != nil {
		return err
	}
	// Ids that are not identifiers never had attachments.
	if dir, err := s.binaryDir(id); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			return ndierr.IO("store.delete_binaries", err)
		}
	}
	s.logger.Debug("document deleted", "doc_id", id)
	return nil
}
