package store

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/schema"
)

// Store enforces the document store contract over a Backend.
type Store struct {
	backend    Backend
	binaryRoot string

	registry *schema.Registry
	ids      ident.Generator
	logger   *slog.Logger

	graph sync.RWMutex
	locks *idLocks
}

// Option configures a Store.
type Option func(*Store)

// WithRegistry validates documents against their CUE class on add and
// update, and fills in class.superclasses when it is empty.
func WithRegistry(r *schema.Registry) Option {
	return func(s *Store) { s.registry = r }
}

// WithIDGenerator sets the generator used for new version ids.
func WithIDGenerator(g ident.Generator) Option {
	return func(s *Store) { s.ids = g }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store over backend. Binary attachments live under
// binaryRoot, which is created if needed.
func New(backend Backend, binaryRoot string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(binaryRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create binary root: %w", err)
	}
	s := &Store{
		backend:    backend,
		binaryRoot: binaryRoot,
		ids:        ident.UUIDv7Generator{},
		logger:     slog.Default(),
		locks:      newIDLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Registry returns the attached schema registry, or nil.
func (s *Store) Registry() *schema.Registry {
	return s.registry
}

// BinaryRoot is the directory holding binary attachments.
func (s *Store) BinaryRoot() string {
	return s.binaryRoot
}

// Close closes the backend.
func (s *Store) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
