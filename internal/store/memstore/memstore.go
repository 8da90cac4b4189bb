// Package memstore is an in-memory store backend. Sessions use it for
// scratch stores and the cloud sync tests use it as a remote mirror.
// Binary attachments still go to a directory on disk.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/store"
)

// Backend holds documents in a map. Stored documents are cloned on the way
// in and out.
type Backend struct {
	mu   sync.RWMutex
	docs map[string]*document.Document
}

var _ store.Backend = (*Backend)(nil)

// NewBackend returns an empty backend.
func NewBackend() *Backend {
	return &Backend{docs: make(map[string]*document.Document)}
}

// Open returns a store over a new in-memory backend with binaries under
// binaryRoot.
func Open(binaryRoot string, opts ...store.Option) (*store.Store, error) {
	return store.New(NewBackend(), binaryRoot, opts...)
}

func (b *Backend) Name() string { return "memory" }

func (b *Backend) Get(ctx context.Context, id string) (*document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.docs[id]
	if !ok {
		return nil, ndierr.NotFound("memstore.get", "document", id)
	}
	return d.Clone(), nil
}

func (b *Backend) Has(ctx context.Context, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.docs[id]
	return ok, nil
}

func (b *Backend) Put(ctx context.Context, doc *document.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[doc.ID()] = doc.Clone()
	return nil
}

func (b *Backend) Remove(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.docs[id]; !ok {
		return ndierr.NotFound("memstore.remove", "document", id)
	}
	delete(b.docs, id)
	return nil
}

func (b *Backend) Dependents(ctx context.Context, id string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for did, d := range b.docs {
		for _, dep := range d.DependsOn {
			if dep.Value == id {
				out = append(out, did)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (b *Backend) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	m, err := query.Compile(q)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*document.Document
	for _, id := range b.sortedIDsLocked() {
		d := b.docs[id]
		if m.Match(d.Tree()) {
			out = append(out, d.Clone())
		}
	}
	return out, nil
}

func (b *Backend) IDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sortedIDsLocked(), nil
}

func (b *Backend) sortedIDsLocked() []string {
	ids := make([]string, 0, len(b.docs))
	for id := range b.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Backend) Close() error { return nil }
