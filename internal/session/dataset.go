package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
)

// InfoClass records one session that belongs to a dataset.
const InfoClass = "dataset_session_info"

// Mode is how a session joined a dataset.
type Mode string

const (
	// ModeLink keeps the session in place; queries reach into its store.
	ModeLink Mode = "link"
	// ModeIngest copies the session's documents and binaries into the
	// dataset store.
	ModeIngest Mode = "ingest"
)

// SessionInfo describes a member session.
type SessionInfo struct {
	SessionID string
	Reference string
	Mode      Mode
	Path      string

	docID string
}

// Dataset is a collection of sessions with its own store. Linked sessions
// stay open for the lifetime of the dataset.
type Dataset struct {
	self     *Session
	linked   map[string]*Session
	order    []string
	reopened map[string]bool
}

// OpenDataset opens the dataset at path. Linked sessions recorded in the
// dataset are reopened.
func OpenDataset(ctx context.Context, path, reference string, opts ...Option) (*Dataset, error) {
	self, err := Open(ctx, path, reference, opts...)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{self: self, linked: make(map[string]*Session), reopened: make(map[string]bool)}
	infos, err := ds.Sessions(ctx)
	if err != nil {
		ds.Close()
		return nil, err
	}
	for _, info := range infos {
		if info.Mode != ModeLink {
			continue
		}
		sess, err := Open(ctx, info.Path, info.Reference, WithLogger(self.logger))
		if err != nil {
			ds.Close()
			return nil, fmt.Errorf("dataset.open: reopen linked session %s: %w", info.SessionID, err)
		}
		if sess.ID() != info.SessionID {
			sess.Close()
			ds.Close()
			return nil, ndierr.Invalid("dataset.open", "linked session at %s has id %s, want %s", info.Path, sess.ID(), info.SessionID)
		}
		ds.linked[sess.ID()] = sess
		ds.order = append(ds.order, sess.ID())
		ds.reopened[sess.ID()] = true
	}
	return ds, nil
}

func (ds *Dataset) ID() string        { return ds.self.ID() }
func (ds *Dataset) Reference() string { return ds.self.Reference() }
func (ds *Dataset) Session() *Session { return ds.self }

// Close closes the dataset store and the linked sessions OpenDataset
// reopened. Sessions passed to LinkSession stay open.
func (ds *Dataset) Close() error {
	var first error
	for _, id := range ds.order {
		if !ds.reopened[id] {
			continue
		}
		if err := ds.linked[id].Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := ds.self.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// LinkSession adds sess by reference. Its documents stay in its own store.
func (ds *Dataset) LinkSession(ctx context.Context, sess *Session) error {
	if err := ds.checkNew(ctx, "dataset.link_session", sess.ID()); err != nil {
		return err
	}
	if err := ds.recordInfo(ctx, sess, ModeLink); err != nil {
		return err
	}
	ds.linked[sess.ID()] = sess
	ds.order = append(ds.order, sess.ID())
	ds.self.logger.Info("session linked", "member", sess.ID(), "path", sess.Path())
	return nil
}

// IngestSession copies every document of sess into the dataset store,
// dependencies first, along with their binary attachments. Documents the
// dataset already holds are left alone.
func (ds *Dataset) IngestSession(ctx context.Context, sess *Session) error {
	const op = "dataset.ingest_session"
	if err := ds.checkNew(ctx, op, sess.ID()); err != nil {
		return err
	}
	src, dst := sess.Store(), ds.self.Store()

	ids, err := src.IDs(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	docs := make(map[string]*document.Document, len(ids))
	for _, id := range ids {
		d, err := src.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		docs[id] = d
	}
	order, err := dependencyOrder(docs)
	if err != nil {
		return err
	}

	copied := 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := dst.Has(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if ok {
			continue
		}
		if err := dst.Add(ctx, docs[id].Clone()); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		names, err := src.ListBinaries(ctx, id)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		for _, name := range names {
			if err := dst.CopyBinary(ctx, src, id, name); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		copied++
	}
	if err := ds.recordInfo(ctx, sess, ModeIngest); err != nil {
		return err
	}
	ds.self.logger.Info("session ingested", "member", sess.ID(), "documents", copied)
	return nil
}

// dependencyOrder sorts ids so that every document follows the documents
// it depends on. Ready documents are taken in id order. Dependencies
// outside the set are ignored.
func dependencyOrder(docs map[string]*document.Document) ([]string, error) {
	indegree := make(map[string]int, len(docs))
	dependents := make(map[string][]string)
	for id, d := range docs {
		indegree[id] += 0
		for _, target := range d.DependencyIDs() {
			if _, ok := docs[target]; !ok || target == id {
				continue
			}
			indegree[id]++
			dependents[target] = append(dependents[target], id)
		}
	}
	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}
	slices.Sort(ready)

	order := make([]string, 0, len(docs))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		var next []string
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				next = append(next, dep)
			}
		}
		if len(next) > 0 {
			ready = append(ready, next...)
			slices.Sort(ready)
		}
	}
	if len(order) != len(docs) {
		return nil, &ndierr.Error{
			Kind:    ndierr.KindDependencyCycle,
			Op:      "dataset.ingest_session",
			Message: fmt.Sprintf("%d documents are in a dependency cycle", len(docs)-len(order)),
		}
	}
	return order, nil
}

func (ds *Dataset) checkNew(ctx context.Context, op, id string) error {
	if id == ds.self.ID() {
		return ndierr.Invalid(op, "a dataset cannot contain itself")
	}
	infos, err := ds.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.SessionID == id {
			return ndierr.AlreadyExists(op, "session", id)
		}
	}
	return nil
}

func (ds *Dataset) recordInfo(ctx context.Context, sess *Session, mode Mode) error {
	d := document.New(InfoClass, ds.self.ID(),
		document.WithName(sess.Reference()),
		document.WithBranch(InfoClass, ir.Obj(
			ir.O("session_id", ir.IRString(sess.ID())),
			ir.O("mode", ir.IRString(string(mode))),
			ir.O("path", ir.IRString(sess.Path())),
			ir.O("reference", ir.IRString(sess.Reference())),
		)),
	)
	if err := ds.self.Store().Add(ctx, d); err != nil {
		return fmt.Errorf("dataset.record_session: %w", err)
	}
	return nil
}

// Sessions lists member sessions ordered by session id.
func (ds *Dataset) Sessions(ctx context.Context) ([]SessionInfo, error) {
	docs, err := ds.self.Store().Find(ctx, query.IsA(InfoClass))
	if err != nil {
		return nil, fmt.Errorf("dataset.sessions: %w", err)
	}
	out := make([]SessionInfo, 0, len(docs))
	for _, d := range docs {
		b, _ := d.Branch(InfoClass)
		id, _ := ir.AsString(b["session_id"])
		ref, _ := ir.AsString(b["reference"])
		mode, _ := ir.AsString(b["mode"])
		path, _ := ir.AsString(b["path"])
		out = append(out, SessionInfo{SessionID: id, Reference: ref, Mode: Mode(mode), Path: path, docID: d.ID()})
	}
	slices.SortFunc(out, func(a, b SessionInfo) int { return strings.Compare(a.SessionID, b.SessionID) })
	return out, nil
}

// LinkedSession returns an open linked session.
func (ds *Dataset) LinkedSession(id string) (*Session, bool) {
	s, ok := ds.linked[id]
	return s, ok
}

// RemoveSession drops a member. A linked session is only unlinked; an
// ingested one has its copied documents deleted.
func (ds *Dataset) RemoveSession(ctx context.Context, id string) error {
	const op = "dataset.remove_session"
	infos, err := ds.Sessions(ctx)
	if err != nil {
		return err
	}
	idx := slices.IndexFunc(infos, func(info SessionInfo) bool { return info.SessionID == id })
	if idx < 0 {
		return ndierr.NotFound(op, "session", id)
	}
	info := infos[idx]
	st := ds.self.Store()
	if info.Mode == ModeIngest {
		n, err := st.DeleteMany(ctx, query.Q("base.session_id").ExactString(id), true)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		ds.self.logger.Info("ingested session removed", "member", id, "documents", n)
	} else {
		if ds.reopened[id] {
			ds.linked[id].Close()
			delete(ds.reopened, id)
		}
		delete(ds.linked, id)
		ds.order = slices.DeleteFunc(ds.order, func(s string) bool { return s == id })
	}
	if err := st.Delete(ctx, info.docID, false); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Find searches the dataset store and every linked session. Each document
// appears once; the dataset's copy wins.
func (ds *Dataset) Find(ctx context.Context, q query.Query) ([]*document.Document, error) {
	out, err := ds.self.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for _, d := range out {
		seen[d.ID()] = true
	}
	for _, id := range ds.order {
		docs, err := ds.linked[id].Find(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("dataset.find: session %s: %w", id, err)
		}
		for _, d := range docs {
			if !seen[d.ID()] {
				seen[d.ID()] = true
				out = append(out, d)
			}
		}
	}
	return out, nil
}
