// Package session holds the aggregate roots: a Session owns a document
// store, a sync graph, a cache and its DAQ systems; a Dataset gathers
// sessions behind its own store.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/roach88/ndicore/internal/cache"
	"github.com/roach88/ndicore/internal/daq"
	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/schema"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/fsstore"
	"github.com/roach88/ndicore/internal/timesync"
)

// Class is the document class of a session.
const Class = "session"

// SubjectClass is the document class of experimental subjects.
const SubjectClass = "subject"

// Session is one recording session rooted at a directory.
type Session struct {
	id        string
	reference string
	path      string

	store  *store.Store
	graph  *timesync.Graph
	cache  *cache.Cache
	logger *slog.Logger

	mu       sync.Mutex
	daqs     []*daq.System
	elements []*daq.Element
	owned    bool
}

// Option configures a Session.
type Option func(*Session)

// WithStore uses s instead of opening a filesystem store under the session
// directory. The caller keeps ownership of s.
func WithStore(s *store.Store) Option {
	return func(sess *Session) { sess.store = s }
}

// WithCache sets the session cache. The default is cache.Shared().
func WithCache(c *cache.Cache) Option {
	return func(sess *Session) { sess.cache = c }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(sess *Session) { sess.logger = l }
}

// Open opens the session at path. The session document is looked up by
// reference and created when missing, so reopening keeps the session id.
// Stored sync rules are registered with the graph.
func Open(ctx context.Context, path, reference string, opts ...Option) (*Session, error) {
	const op = "session.open"
	if reference == "" {
		return nil, ndierr.Invalid(op, "reference is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, ndierr.IO(op, err)
	}
	s := &Session{reference: reference, path: abs}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cache == nil {
		s.cache = cache.Shared()
	}
	if s.store == nil {
		reg, err := schema.NewRegistry()
		if err != nil {
			return nil, err
		}
		s.store, err = fsstore.Open(abs, store.WithRegistry(reg), store.WithLogger(s.logger))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.owned = true
	}
	s.graph = timesync.NewGraph(s.logger)

	if err := s.loadOrCreate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.loadRules(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.logger = s.logger.With("session_id", s.id)
	s.logger.Debug("session opened", "path", abs)
	return s, nil
}

func (s *Session) loadOrCreate(ctx context.Context) error {
	q := query.MustAllOf(query.IsA(Class), query.Q("session.reference").ExactString(s.reference))
	docs, err := s.store.Find(ctx, q)
	if err != nil {
		return fmt.Errorf("session.open: %w", err)
	}
	if len(docs) > 0 {
		s.id = docs[0].ID()
		return nil
	}
	s.id = ident.NewString()
	d := document.New(Class, s.id,
		document.WithID(s.id),
		document.WithName(s.reference),
		document.WithBranch(Class, ir.Obj(ir.O("reference", ir.IRString(s.reference)))),
	)
	if err := s.store.Add(ctx, d); err != nil {
		return fmt.Errorf("session.open: %w", err)
	}
	return nil
}

func (s *Session) loadRules(ctx context.Context) error {
	docs, err := s.store.Find(ctx, query.IsA(timesync.RuleClass))
	if err != nil {
		return fmt.Errorf("session.load_rules: %w", err)
	}
	for _, d := range docs {
		r, err := timesync.RuleFromDocument(d)
		if err != nil {
			return err
		}
		if _, err := s.graph.AddRule(d.ID(), r); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) ID() string             { return s.id }
func (s *Session) Reference() string      { return s.reference }
func (s *Session) Path() string           { return s.path }
func (s *Session) Store() *store.Store    { return s.store }
func (s *Session) Graph() *timesync.Graph { return s.graph }
func (s *Session) Cache() *cache.Cache    { return s.cache }
func (s *Session) Logger() *slog.Logger   { return s.logger }

// Close closes the store if the session opened it.
func (s *Session) Close() error {
	if s.owned && s.store != nil {
		return s.store.Close()
	}
	return nil
}

// NewDocument creates a document of a registered class stamped with the
// session id.
func (s *Session) NewDocument(class string, opts ...document.Option) (*document.Document, error) {
	if reg := s.store.Registry(); reg != nil {
		return reg.NewDocument(class, s.id, opts...)
	}
	return document.New(class, s.id, opts...), nil
}

// AddDAQSystem stamps the session id onto sys and stores the documents it
// generates: navigator, system, probes and channels. Its probes join the
// sync graph. System names are unique within a session.
func (s *Session) AddDAQSystem(ctx context.Context, sys *daq.System) error {
	const op = "session.add_daqsystem"
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, have := range s.daqs {
		if have.Name() == sys.Name() {
			return ndierr.AlreadyExists(op, "daqsystem", sys.Name())
		}
	}

	sys.SetSessionID(s.id)
	docs, err := sys.Documents(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, d := range docs {
		if err := s.linkSubject(ctx, d); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.store.Upsert(ctx, d); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	probes, err := sys.Probes(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range probes {
		s.graph.AddReferent(p)
	}
	s.daqs = append(s.daqs, sys)
	s.logger.Info("daq system added", "daqsystem", sys.Name(), "documents", len(docs), "probes", len(probes))
	return nil
}

// linkSubject points a probe document at the subject whose local
// identifier is the probe's subject string. Probes of unknown subjects keep
// an empty subject_id.
func (s *Session) linkSubject(ctx context.Context, d *document.Document) error {
	if d.ClassName() != daq.ProbeClass {
		return nil
	}
	branch, ok := d.Payload[daq.ProbeClass].(ir.IRObject)
	if !ok {
		return nil
	}
	subject, _ := ir.AsString(branch["subject_string"])
	if subject == "" {
		return nil
	}
	found, err := s.store.Find(ctx, query.MustAllOf(
		query.IsA(SubjectClass),
		query.Q("subject.local_identifier").ExactString(subject),
	))
	if err != nil {
		return err
	}
	if len(found) == 0 {
		s.logger.Debug("no subject document for probe", "doc_id", d.ID(), "subject", subject)
		return nil
	}
	branch["subject_id"] = ir.IRString(found[0].ID())
	d.SetDependency("subject_id", found[0].ID())
	return nil
}

// RemoveDAQSystem deletes a system's documents, cascading to its probes and
// channels, and drops its probes from the sync graph.
func (s *Session) RemoveDAQSystem(ctx context.Context, name string) error {
	const op = "session.remove_daqsystem"
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sys := range s.daqs {
		if sys.Name() != name {
			continue
		}
		probes, err := sys.Probes(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if err := s.store.Delete(ctx, sys.Navigator().ID(), true); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		for _, p := range probes {
			s.graph.RemoveReferent(p.ID())
		}
		s.daqs = append(s.daqs[:i], s.daqs[i+1:]...)

		// elements derived from the removed probes went with the cascade
		kept := s.elements[:0]
		for _, el := range s.elements {
			ok, err := s.store.Has(ctx, el.ID())
			if err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
			if ok {
				kept = append(kept, el)
			} else {
				s.graph.RemoveReferent(el.ID())
			}
		}
		s.elements = kept
		s.logger.Info("daq system removed", "daqsystem", name)
		return nil
	}
	return ndierr.NotFound(op, "daqsystem", name)
}

// DAQSystems returns the session's systems in the order they were added.
func (s *Session) DAQSystems() []*daq.System {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*daq.System(nil), s.daqs...)
}

// DAQSystem returns the system called name.
func (s *Session) DAQSystem(name string) (*daq.System, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sys := range s.daqs {
		if sys.Name() == name {
			return sys, nil
		}
	}
	return nil, ndierr.NotFound("session.daqsystem", "daqsystem", name)
}

// Probes returns the probes of every system.
func (s *Session) Probes(ctx context.Context) ([]*daq.Probe, error) {
	var out []*daq.Probe
	for _, sys := range s.DAQSystems() {
		ps, err := sys.Probes(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

// AddElement stores a derived element and adds it to the sync graph.
func (s *Session) AddElement(ctx context.Context, el *daq.Element) error {
	if err := s.store.Upsert(ctx, el.Document()); err != nil {
		return fmt.Errorf("session.add_element: %w", err)
	}
	s.mu.Lock()
	s.elements = append(s.elements, el)
	s.mu.Unlock()
	s.graph.AddReferent(el)
	return nil
}

// Elements returns the derived elements added to the session.
func (s *Session) Elements() []*daq.Element {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*daq.Element(nil), s.elements...)
}

// AddSyncRule stores r as a syncrule document and registers it with the
// graph. It returns the rule id.
func (s *Session) AddSyncRule(ctx context.Context, r timesync.Rule) (string, error) {
	ids := s.graph.RuleIDs()
	d := timesync.RuleDocument("", s.id, r, len(ids))
	if err := s.store.Add(ctx, d); err != nil {
		return "", fmt.Errorf("session.add_syncrule: %w", err)
	}
	return s.graph.AddRule(d.ID(), r)
}

// RemoveSyncRule deletes the rule document and unregisters the rule.
func (s *Session) RemoveSyncRule(ctx context.Context, id string) error {
	if err := s.graph.RemoveRule(id); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id, false); err != nil {
		return fmt.Errorf("session.remove_syncrule: %w", err)
	}
	return nil
}

// TimeConvert converts a time between clock domains of the session's
// referents.
func (s *Session) TimeConvert(ctx context.Context, from timesync.TimeRef, to timesync.Target) (timesync.TimeRef, error) {
	return s.graph.Convert(ctx, from, to)
}

// Find searches the session store.
func (s *Session) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	return s.store.Find(ctx, q)
}
