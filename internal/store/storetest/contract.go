// Package storetest is the contract suite every store backend must pass.
// Backend packages call Run from their own tests with a constructor for a
// fresh, empty store.
package storetest

import (
	"context"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/store"
)

// Factory returns a new empty store. The store is closed by the suite.
type Factory func(t *testing.T) *store.Store

// Run runs the contract suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s *store.Store)
	}{
		{"AddFindRoundTrip", testAddFindRoundTrip},
		{"AddDuplicate", testAddDuplicate},
		{"AddMissingDependency", testAddMissingDependency},
		{"UpdateReplaces", testUpdateReplaces},
		{"UpdateMissing", testUpdateMissing},
		{"UpdateClassFixed", testUpdateClassFixed},
		{"Upsert", testUpsert},
		{"DeleteCascade", testDeleteCascade},
		{"DeleteCascadeOrder", testDeleteCascadeOrder},
		{"DeleteMany", testDeleteMany},
		{"UpdateMany", testUpdateMany},
		{"AddDependency", testAddDependency},
		{"SaveUpdatesHistory", testSaveUpdatesHistory},
		{"BinaryStreams", testBinaryStreams},
		{"QueryParity", testQueryParity},
		{"Verify", testVerify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { s.Close() })
			tt.fn(t, s)
		})
	}
}

var stamp = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// NewDoc builds a document for tests with a fixed datestamp.
func NewDoc(class, name string, branches ...ir.IRPair) *document.Document {
	d := document.New(class, "sess-1", document.WithName(name), document.WithTime(stamp))
	for _, p := range branches {
		d.Payload[p.Key] = p.Value
	}
	return d
}

func ids(docs []*document.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID()
	}
	return out
}

func sorted(ss ...string) []string {
	out := append([]string(nil), ss...)
	sort.Strings(out)
	return out
}

func testAddFindRoundTrip(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("probe", "ctx1",
		ir.O("probe", ir.Obj(
			ir.O("gain", ir.IRFloat(2.5)),
			ir.O("channels", ir.IRArray{ir.IRInt(1), ir.IRInt(2)}),
			ir.O("note", ir.IRNull{}),
		)),
	)
	d.Class.Superclasses = []string{"element", "base"}
	d.AddFile("raw.bin", "/data/raw.bin", document.LocationFile)
	require.NoError(t, s.Add(ctx, d))

	got, err := s.FindByID(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, d.ID(), got.ID())
	assert.Equal(t, d.Tree(), got.Tree())

	_, err = s.FindByID(ctx, ident.NewString())
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func testAddDuplicate(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("probe", "a")
	require.NoError(t, s.Add(ctx, d))
	err := s.Add(ctx, d)
	assert.True(t, ndierr.Is(err, ndierr.KindAlreadyExists), "got %v", err)
}

func testAddMissingDependency(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("channel", "c")
	d.SetDependency("probe_id", ident.NewString())
	err := s.Add(ctx, d)
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyMissing), "got %v", err)

	has, err := s.Has(ctx, d.ID())
	require.NoError(t, err)
	assert.False(t, has)

	// Empty values mean "unset" and are not checked.
	d.SetDependency("probe_id", "")
	assert.NoError(t, s.Add(ctx, d))
}

func testUpdateReplaces(t *testing.T, s *store.Store) {
	ctx := context.Background()
	parent := NewDoc("probe", "p")
	child := NewDoc("channel", "c", ir.O("channel", ir.Obj(ir.O("number", ir.IRInt(1)))))
	child.SetDependency("probe_id", parent.ID())
	require.NoError(t, s.Add(ctx, parent))
	require.NoError(t, s.Add(ctx, child))

	parent.Payload["probe"] = ir.Obj(ir.O("gain", ir.IRInt(4)))
	require.NoError(t, s.Update(ctx, parent))

	got, err := s.FindByID(ctx, parent.ID())
	require.NoError(t, err)
	v, ok := got.Get("probe.gain")
	require.True(t, ok)
	assert.Equal(t, ir.IRInt(4), v)

	deps, err := s.Dependents(ctx, parent.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID()}, deps)
}

func testUpdateMissing(t *testing.T, s *store.Store) {
	err := s.Update(context.Background(), NewDoc("probe", "ghost"))
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound), "got %v", err)
}

func testUpdateClassFixed(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("probe", "p")
	require.NoError(t, s.Add(ctx, d))
	d.Class.Name = "channel"
	err := s.Update(ctx, d)
	assert.True(t, ndierr.Is(err, ndierr.KindSchemaViolation), "got %v", err)
}

func testUpsert(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("probe", "p")
	require.NoError(t, s.Upsert(ctx, d))
	d.Base.Name = "renamed"
	require.NoError(t, s.Upsert(ctx, d))

	got, err := s.FindByID(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Base.Name)
}

func testDeleteCascade(t *testing.T, s *store.Store) {
	ctx := context.Background()
	p := NewDoc("probe", "p")
	c := NewDoc("channel", "c")
	c.SetDependency("child", p.ID())
	require.NoError(t, s.Add(ctx, p))
	require.NoError(t, s.Add(ctx, c))

	err := s.Delete(ctx, p.ID(), false)
	require.Error(t, err)
	assert.True(t, ndierr.Is(err, ndierr.KindCascadeRequired), "got %v", err)

	require.NoError(t, s.Delete(ctx, p.ID(), true))
	for _, id := range []string{p.ID(), c.ID()} {
		has, err := s.Has(ctx, id)
		require.NoError(t, err)
		assert.False(t, has, id)
	}
	deps, err := s.Dependents(ctx, p.ID())
	require.NoError(t, err)
	assert.Empty(t, deps)

	err = s.Delete(ctx, p.ID(), true)
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func testDeleteCascadeOrder(t *testing.T, s *store.Store) {
	ctx := context.Background()
	// a <- b <- c, and a <- c directly.
	a := NewDoc("base", "a")
	b := NewDoc("base", "b")
	c := NewDoc("base", "c")
	b.SetDependency("up", a.ID())
	c.SetDependency("up", b.ID())
	c.SetDependency("root", a.ID())
	for _, d := range []*document.Document{a, b, c} {
		require.NoError(t, s.Add(ctx, d))
	}

	require.NoError(t, s.Delete(ctx, b.ID(), true))
	remaining, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID()}, remaining)

	rep, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%+v", rep)
}

func testDeleteMany(t *testing.T, s *store.Store) {
	ctx := context.Background()
	p := NewDoc("probe", "p")
	c1 := NewDoc("channel", "c1")
	c2 := NewDoc("channel", "c2")
	c1.SetDependency("probe_id", p.ID())
	c2.SetDependency("probe_id", p.ID())
	for _, d := range []*document.Document{p, c1, c2} {
		require.NoError(t, s.Add(ctx, d))
	}

	// Deleting only the probe would orphan the channels.
	_, err := s.DeleteMany(ctx, query.Q("class.name").Eq("probe"), false)
	assert.True(t, ndierr.Is(err, ndierr.KindCascadeRequired), "got %v", err)

	// Channels have no dependents: fine without cascade.
	n, err := s.DeleteMany(ctx, query.Q("class.name").Eq("channel"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteMany(ctx, query.Q("class.name").Eq("nothing"), false)
	require.NoError(t, err)
	assert.Zero(t, n)

	remaining, err := s.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID()}, remaining)
}

func testUpdateMany(t *testing.T, s *store.Store) {
	ctx := context.Background()
	a := NewDoc("probe", "a", ir.O("probe", ir.Obj(ir.O("gain", ir.IRInt(1)), ir.O("keep", ir.IRBool(true)))))
	b := NewDoc("probe", "b")
	c := NewDoc("channel", "c")
	for _, d := range []*document.Document{a, b, c} {
		require.NoError(t, s.Add(ctx, d))
	}

	n, err := s.UpdateMany(ctx, query.Q("class.name").Eq("probe"), ir.Obj(ir.O("probe", ir.Obj(ir.O("gain", ir.IRInt(9))))))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.FindByID(ctx, a.ID())
	require.NoError(t, err)
	v, _ := got.Get("probe.gain")
	assert.Equal(t, ir.IRInt(9), v)
	v, _ = got.Get("probe.keep")
	assert.Equal(t, ir.IRBool(true), v)

	_, err = s.UpdateMany(ctx, query.And{}, ir.Obj(ir.O("base", ir.Obj())))
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}

func testAddDependency(t *testing.T, s *store.Store) {
	ctx := context.Background()
	a := NewDoc("base", "a")
	b := NewDoc("base", "b")
	c := NewDoc("base", "c")
	for _, d := range []*document.Document{a, b, c} {
		require.NoError(t, s.Add(ctx, d))
	}

	require.NoError(t, s.AddDependency(ctx, b.ID(), "up", a.ID()))
	require.NoError(t, s.AddDependency(ctx, c.ID(), "up", b.ID()))

	err := s.AddDependency(ctx, c.ID(), "up", a.ID())
	assert.True(t, ndierr.Is(err, ndierr.KindAlreadyExists), "got %v", err)

	err = s.AddDependency(ctx, a.ID(), "down", c.ID())
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyCycle), "got %v", err)

	err = s.AddDependency(ctx, a.ID(), "self", a.ID())
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyCycle), "got %v", err)

	err = s.AddDependency(ctx, a.ID(), "x", ident.NewString())
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyMissing), "got %v", err)

	// Closing the cycle through update is rejected too.
	a2, err := s.FindByID(ctx, a.ID())
	require.NoError(t, err)
	a2.SetDependency("down", c.ID())
	err = s.Update(ctx, a2)
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyCycle), "got %v", err)

	deps, err := s.Dependents(ctx, a.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID()}, deps)
}

func testSaveUpdatesHistory(t *testing.T, s *store.Store) {
	ctx := context.Background()
	v1 := NewDoc("subject", "mouse", ir.O("subject", ir.Obj(ir.O("weight", ir.IRInt(20)))))
	require.NoError(t, s.Add(ctx, v1))

	edit := v1.Clone()
	edit.Payload["subject"] = ir.Obj(ir.O("weight", ir.IRInt(21)))
	v2, err := s.SaveUpdates(ctx, edit)
	require.NoError(t, err)
	assert.NotEqual(t, v1.ID(), v2.ID())
	assert.Equal(t, v1.ID(), v2.Metadata.ParentID)
	assert.Equal(t, 1, v2.Metadata.VersionDepth)
	assert.True(t, v2.Metadata.LatestVersion)

	old, err := s.FindByID(ctx, v1.ID())
	require.NoError(t, err)
	assert.False(t, old.Metadata.LatestVersion)

	v3, err := s.SaveUpdates(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, []string{v2.ID(), v1.ID()}, v3.Metadata.AscPath)

	hist, err := s.GetHistory(ctx, v3)
	require.NoError(t, err)
	assert.Equal(t, []string{v1.ID(), v2.ID(), v3.ID()}, ids(hist))

	latest, err := s.Find(ctx, query.Q("_metadata.latest_version").Eq(true))
	require.NoError(t, err)
	assert.Equal(t, []string{v3.ID()}, ids(latest))
}

func testBinaryStreams(t *testing.T, s *store.Store) {
	ctx := context.Background()
	d := NewDoc("probe", "p")
	require.NoError(t, s.Add(ctx, d))

	_, err := s.OpenWriteStream(ctx, ident.NewString(), "x.bin")
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
	_, err = s.OpenWriteStream(ctx, d.ID(), "../escape")
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))

	w, err := s.OpenWriteStream(ctx, d.ID(), "data.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello world"))
	require.NoError(t, err)

	exists, err := s.ExistsBinary(ctx, d.ID(), "data.bin")
	require.NoError(t, err)
	assert.False(t, exists, "visible before close")
	require.NoError(t, w.Close())

	exists, err = s.ExistsBinary(ctx, d.ID(), "data.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := s.OpenReadStream(ctx, d.ID(), "data.bin")
	require.NoError(t, err)
	_, err = r.Seek(6, io.SeekStart)
	require.NoError(t, err)
	part, err := r.ReadN(3)
	require.NoError(t, err)
	assert.Equal(t, "wor", string(part))
	pos, err := r.Tell()
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)
	eof, err := r.EOF()
	require.NoError(t, err)
	assert.False(t, eof)
	rest, err := r.ReadN(100)
	require.NoError(t, err)
	assert.Equal(t, "ld", string(rest))
	eof, err = r.EOF()
	require.NoError(t, err)
	assert.True(t, eof)
	_, err = r.Write([]byte("x"))
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
	require.NoError(t, r.Close())

	names, err := s.ListBinaries(ctx, d.ID())
	require.NoError(t, err)
	assert.Equal(t, []string{"data.bin"}, names)

	require.NoError(t, s.DeleteBinary(ctx, d.ID(), "data.bin"))
	err = s.DeleteBinary(ctx, d.ID(), "data.bin")
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))

	// Deleting the document removes its attachments.
	w, err = s.OpenWriteStream(ctx, d.ID(), "again.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, s.Delete(ctx, d.ID(), false))
	exists, err = s.ExistsBinary(ctx, d.ID(), "again.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

// ParityCorpus is the fixed document set the query parity test stores.
func ParityCorpus() []*document.Document {
	a := NewDoc("probe", "A", ir.O("app", ir.Obj(ir.O("a", ir.IRBool(true)), ir.O("b", ir.IRBool(true)), ir.O("n", ir.IRInt(1)))))
	b := NewDoc("probe", "B", ir.O("app", ir.Obj(ir.O("a", ir.IRBool(true)), ir.O("b", ir.IRBool(false)), ir.O("n", ir.IRFloat(2.5)))))
	c := NewDoc("channel", "C", ir.O("app", ir.Obj(
		ir.O("a", ir.IRBool(false)),
		ir.O("b", ir.IRBool(false)),
		ir.O("tags", ir.Strings("x", "yz")),
		ir.O("label", ir.IRString("ctx-12")),
		ir.O("nothing", ir.IRNull{}),
	)))
	a.Class.Superclasses = []string{"element", "base"}
	b.Class.Superclasses = []string{"element", "base"}
	c.Class.Superclasses = []string{"element", "base"}
	c.SetDependency("probe_id", a.ID())
	return []*document.Document{a, b, c}
}

// ParityQueries covers every operator.
func ParityQueries(corpus []*document.Document) []query.Query {
	a := corpus[0]
	return []query.Query{
		query.MustAllOf(query.Q("app.a").Eq(true), query.Q("base.name").Eq("A")),
		query.MustAnyOf(query.Q("app.a").Eq(true), query.Q("app.b").Eq(false)),
		query.Q("app.n").Eq(1),
		query.Q("app.n").Eq(2.5),
		query.Q("app.n").NotEq(1),
		query.Q("app.n").Gt(1),
		query.Q("app.n").Le(2.5),
		query.Q("base.name").Ge("B"),
		query.Q("app.tags").Contains("yz"),
		query.Q("app.label").Contains("tx-"),
		query.Q("app.label").Match(`\d+`),
		query.Q("app.label").Regexp(`\d+`),
		query.Q("app.label").Regexp(`ctx-\d+`),
		query.Q("app.tags").Exists(true),
		query.Q("app.tags").Exists(false),
		query.Q("app.nothing").Eq(nil),
		query.Q("base.name").In("A", "C", "Z"),
		query.Q("base.name").ExactString("B"),
		query.IsA("element"),
		query.IsA("channel"),
		query.DependsOn("probe_id", a.ID()),
		query.DependsOn(query.DependsOnAny, a.ID()),
		query.And{},
		query.Or{},
	}
}

func testQueryParity(t *testing.T, s *store.Store) {
	ctx := context.Background()
	corpus := ParityCorpus()
	for _, d := range corpus {
		require.NoError(t, s.Add(ctx, d))
	}
	for _, q := range ParityQueries(corpus) {
		m, err := query.Compile(q)
		require.NoError(t, err)
		var want []string
		for _, d := range corpus {
			if m.Match(d.Tree()) {
				want = append(want, d.ID())
			}
		}
		got, err := s.Find(ctx, q)
		require.NoError(t, err, q.String())
		assert.Equal(t, sorted(want...), sorted(ids(got)...), q.String())
	}

	// Scenario from the query engine docs.
	got, err := s.Find(ctx, query.MustAllOf(query.Q("app.a").Eq(true), query.Q("base.name").Eq("A")))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Base.Name)

	got, err = s.Find(ctx, query.MustAnyOf(query.Q("app.a").Eq(true), query.Q("app.b").Eq(false)))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testVerify(t *testing.T, s *store.Store) {
	ctx := context.Background()
	for _, d := range ParityCorpus() {
		require.NoError(t, s.Add(ctx, d))
	}
	rep, err := s.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Documents)
	assert.True(t, rep.OK(), "%+v", rep)
}
