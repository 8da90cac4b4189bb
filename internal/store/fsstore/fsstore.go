// Package fsstore is the filesystem store backend.
//
// Layout under the session directory:
//
//	.ndi/documents/<id>.dat                            one record per document
//	.ndi/documents/document_lookup/<dependent>:<target> zero-byte dependency markers
//	.ndi/documents/document_binary/<id>/<filename>      binary attachments
//
// Each document write is atomic (write to a temp file, then rename). Writes
// touching several documents are not transactional.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/store"
)

const (
	DocumentsDir = ".ndi/documents"
	LookupDir    = "document_lookup"
	BinaryDir    = "document_binary"
	recordExt    = ".dat"
)

// Backend stores one .dat record per document under root.
type Backend struct {
	root string
	mu   sync.RWMutex
}

var _ store.Backend = (*Backend)(nil)

// NewBackend opens (creating if needed) the document directory at root.
func NewBackend(root string) (*Backend, error) {
	if err := os.MkdirAll(filepath.Join(root, LookupDir), 0o755); err != nil {
		return nil, ndierr.IO("fsstore.open", err)
	}
	return &Backend{root: root}, nil
}

// Open returns a store rooted at <dir>/.ndi/documents.
func Open(dir string, opts ...store.Option) (*store.Store, error) {
	root := filepath.Join(dir, filepath.FromSlash(DocumentsDir))
	b, err := NewBackend(root)
	if err != nil {
		return nil, err
	}
	return store.New(b, filepath.Join(root, BinaryDir), opts...)
}

// Root is the document directory.
func (b *Backend) Root() string { return b.root }

func (b *Backend) Name() string { return "filesystem" }

func (b *Backend) recordPath(id string) string {
	return filepath.Join(b.root, id+recordExt)
}

// MarkerName is the dependency marker file name for an edge.
func MarkerName(dependent, target string) string {
	return dependent + ":" + target
}

func (b *Backend) Get(ctx context.Context, id string) (*document.Document, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.readLocked(id)
}

func (b *Backend) readLocked(id string) (*document.Document, error) {
	const op = "fsstore.get"
	if !validID(id) {
		return nil, ndierr.NotFound(op, "document", id)
	}
	data, err := os.ReadFile(b.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ndierr.NotFound(op, "document", id)
	}
	if err != nil {
		return nil, ndierr.IO(op, err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	doc, err := document.FromTree(rec.Tree)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, id, err)
	}
	return doc, nil
}

func (b *Backend) Has(ctx context.Context, id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := os.Stat(b.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ndierr.IO("fsstore.has", err)
	}
	return true, nil
}

// Put writes the record and then replaces the document's markers.
func (b *Backend) Put(ctx context.Context, doc *document.Document) error {
	const op = "fsstore.put"
	id := doc.ID()
	if !validID(id) {
		return ndierr.Invalid(op, "document id %q cannot be used as a file name", id)
	}
	data, err := EncodeRecord(Record{Tree: doc.Tree()})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := writeAtomic(b.root, b.recordPath(id), data); err != nil {
		return ndierr.IO(op, err)
	}
	if err := b.clearMarkersLocked(id); err != nil {
		return ndierr.IO(op, err)
	}
	for _, target := range doc.DependencyIDs() {
		f, err := os.Create(filepath.Join(b.root, LookupDir, MarkerName(id, target)))
		if err != nil {
			return ndierr.IO(op, err)
		}
		f.Close()
	}
	return nil
}

func (b *Backend) Remove(ctx context.Context, id string) error {
	const op = "fsstore.remove"
	b.mu.Lock()
	defer b.mu.Unlock()
	if !validID(id) {
		return ndierr.NotFound(op, "document", id)
	}
	err := os.Remove(b.recordPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ndierr.NotFound(op, "document", id)
	}
	if err != nil {
		return ndierr.IO(op, err)
	}
	if err := b.clearMarkersLocked(id); err != nil {
		return ndierr.IO(op, err)
	}
	return nil
}

// clearMarkersLocked removes every marker whose dependent is id.
func (b *Backend) clearMarkersLocked(id string) error {
	names, err := b.markersLocked()
	if err != nil {
		return err
	}
	for _, name := range names {
		dependent, _, ok := strings.Cut(name, ":")
		if ok && dependent == id {
			if err := os.Remove(filepath.Join(b.root, LookupDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) markersLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, LookupDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Dependents scans marker names for edges pointing at id.
func (b *Backend) Dependents(ctx context.Context, id string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names, err := b.markersLocked()
	if err != nil {
		return nil, ndierr.IO("fsstore.dependents", err)
	}
	var out []string
	for _, name := range names {
		dependent, target, ok := strings.Cut(name, ":")
		if ok && target == id {
			out = append(out, dependent)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Find loads every record and evaluates q in memory.
func (b *Backend) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	m, err := query.Compile(q)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids, err := b.idsLocked()
	if err != nil {
		return nil, err
	}
	var out []*document.Document
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := b.readLocked(id)
		if err != nil {
			return nil, err
		}
		if m.Match(doc.Tree()) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (b *Backend) IDs(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.idsLocked()
}

func (b *Backend) idsLocked() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, ndierr.IO("fsstore.ids", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, recordExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (b *Backend) Close() error { return nil }

// validID rejects ids that would escape the directory or collide with
// marker syntax.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.HasPrefix(id, ".") && !strings.ContainsAny(id, `/\:`)
}

func writeAtomic(dir, path string, data []byte) error {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
