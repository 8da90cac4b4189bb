package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/cache"
	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/daq"
	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/query"
	"github.com/roach88/ndicore/internal/schema"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/memstore"
	"github.com/roach88/ndicore/internal/testutil"
	"github.com/roach88/ndicore/internal/timesync"
)

const probeMap = "name\treference\ttype\tdevicestring\tsubjectstring\n" +
	"ctx\t1\tn-trode\tintan1:ai1-4\tmouse1\n" +
	"hpc\t1\tn-trode\tintan1:ai5-8\tmouse1\n"

func writeRecording(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"rec_1.bin":               "one",
		"rec_1.epochprobemap.txt": probeMap,
		"rec_2.bin":               "two",
		"rec_2.epochprobemap.txt": probeMap,
	})
	return root
}

func newSystem(t *testing.T, root, name string) *daq.System {
	t.Helper()
	reg := daq.NewRegistry()
	reg.Register("synthetic", daq.NewSyntheticReader(8, 1000, 100))
	cfg := daq.Config{
		Name:   name,
		Reader: "synthetic",
		Navigator: epoch.Params{
			FileMatchPatterns:   []string{`rec_#\.bin`},
			MetadataFilePattern: `rec_#\.epochprobemap\.txt`,
		},
	}
	sys, err := reg.Build(cfg, root, []epoch.Option{epoch.WithCache(cache.New(1<<20, cache.FIFO))})
	require.NoError(t, err)
	return sys
}

func memSession(t *testing.T, reference string) *Session {
	t.Helper()
	st, err := memstore.Open(t.TempDir(), store.WithRegistry(schema.MustNewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	s, err := Open(context.Background(), t.TempDir(), reference, WithStore(st))
	require.NoError(t, err)
	return s
}

func TestOpen_ReopenKeepsIDAndRules(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, dir, "exp-2024-01")
	require.NoError(t, err)
	id := s.ID()
	assert.Len(t, id, 32)
	ruleID, err := s.AddSyncRule(ctx, timesync.NewFileMatchRule(2))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	again, err := Open(ctx, dir, "exp-2024-01")
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, id, again.ID())
	assert.Equal(t, []string{ruleID}, again.Graph().RuleIDs())

	docs, err := again.Find(ctx, query.IsA(Class))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "exp-2024-01", docs[0].Base.Name)
}

func TestOpen_RequiresReference(t *testing.T) {
	_, err := Open(context.Background(), t.TempDir(), "")
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}

func TestSession_AddDAQSystem(t *testing.T) {
	ctx := context.Background()
	s := memSession(t, "exp")
	sys := newSystem(t, writeRecording(t), "intan1")

	require.NoError(t, s.AddDAQSystem(ctx, sys))
	assert.Equal(t, s.ID(), sys.SessionID())

	probes, err := s.Find(ctx, query.IsA(daq.ProbeClass))
	require.NoError(t, err)
	assert.Len(t, probes, 2)
	for _, p := range probes {
		assert.Equal(t, s.ID(), p.SessionID())
	}

	elements, err := s.Find(ctx, query.IsA(daq.ElementClass))
	require.NoError(t, err)
	// two probes plus four channels per probe per epoch
	assert.Len(t, elements, 2+2*2*4)

	err = s.AddDAQSystem(ctx, newSystem(t, writeRecording(t), "intan1"))
	assert.True(t, ndierr.Is(err, ndierr.KindAlreadyExists))

	got, err := s.DAQSystem("intan1")
	require.NoError(t, err)
	assert.Same(t, sys, got)
	_, err = s.DAQSystem("nope")
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func TestSession_AddDAQSystemLinksSubjects(t *testing.T) {
	ctx := context.Background()
	s := memSession(t, "exp")
	mouse, err := s.NewDocument(SubjectClass, document.WithName("mouse1"),
		document.WithBranch("subject", ir.Obj(ir.O("local_identifier", ir.IRString("mouse1")))))
	require.NoError(t, err)
	require.NoError(t, s.Store().Add(ctx, mouse))

	require.NoError(t, s.AddDAQSystem(ctx, newSystem(t, writeRecording(t), "intan1")))

	probes, err := s.Find(ctx, query.IsA(daq.ProbeClass))
	require.NoError(t, err)
	require.Len(t, probes, 2)
	for _, p := range probes {
		got, ok := ir.Lookup(p.Tree(), "probe.subject_id")
		require.True(t, ok)
		assert.Equal(t, ir.IRString(mouse.ID()), got)
		dep, ok := p.Dependency("subject_id")
		require.True(t, ok)
		assert.Equal(t, mouse.ID(), dep)
	}

	dependents, err := s.Store().Dependents(ctx, mouse.ID())
	require.NoError(t, err)
	assert.Len(t, dependents, 2)
}

func TestSession_AddDAQSystemUnknownSubject(t *testing.T) {
	ctx := context.Background()
	s := memSession(t, "exp")
	require.NoError(t, s.AddDAQSystem(ctx, newSystem(t, writeRecording(t), "intan1")))

	probes, err := s.Find(ctx, query.IsA(daq.ProbeClass))
	require.NoError(t, err)
	for _, p := range probes {
		got, _ := ir.Lookup(p.Tree(), "probe.subject_id")
		assert.Equal(t, ir.IRString(""), got)
		dep, _ := p.Dependency("subject_id")
		assert.Empty(t, dep)
	}
}

func TestSession_RemoveDAQSystemCascades(t *testing.T) {
	ctx := context.Background()
	s := memSession(t, "exp")
	require.NoError(t, s.AddDAQSystem(ctx, newSystem(t, writeRecording(t), "intan1")))
	probes, err := s.Probes(ctx)
	require.NoError(t, err)
	el, err := daq.NewElement("units", 0, "spikes", probes[0])
	require.NoError(t, err)
	require.NoError(t, s.AddElement(ctx, el))
	require.Len(t, s.Elements(), 1)

	require.NoError(t, s.RemoveDAQSystem(ctx, "intan1"))
	assert.Empty(t, s.DAQSystems())
	assert.Empty(t, s.Elements())

	left, err := s.Find(ctx, query.IsA(daq.ElementClass))
	require.NoError(t, err)
	assert.Empty(t, left)

	err = s.RemoveDAQSystem(ctx, "intan1")
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func TestSession_TimeConvertWithFileMatch(t *testing.T) {
	ctx := context.Background()
	s := memSession(t, "exp")
	require.NoError(t, s.AddDAQSystem(ctx, newSystem(t, writeRecording(t), "intan1")))
	probes, err := s.Probes(ctx)
	require.NoError(t, err)
	require.Len(t, probes, 2)
	table, err := probes[0].EpochTable(ctx)
	require.NoError(t, err)

	from := timesync.TimeRef{Referent: probes[0].ID(), Clock: clocktype.DevLocalTime, Epoch: table[0].ID, T: 0.05}
	to := timesync.Target{Referent: probes[1].ID(), Clock: clocktype.DevLocalTime}

	_, err = s.TimeConvert(ctx, from, to)
	assert.True(t, ndierr.Is(err, ndierr.KindUnreachableClock))

	ruleID, err := s.AddSyncRule(ctx, timesync.NewFileMatchRule(1))
	require.NoError(t, err)
	got, err := s.TimeConvert(ctx, from, to)
	require.NoError(t, err)
	assert.Equal(t, probes[1].ID(), got.Referent)
	assert.Equal(t, table[0].ID, got.Epoch)
	assert.InDelta(t, 0.05, got.T, 1e-12)

	require.NoError(t, s.RemoveSyncRule(ctx, ruleID))
	_, err = s.TimeConvert(ctx, from, to)
	assert.True(t, ndierr.Is(err, ndierr.KindUnreachableClock))
	ok, err := s.Store().Has(ctx, ruleID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSession_NewDocumentFillsSuperclasses(t *testing.T) {
	s := memSession(t, "exp")
	d, err := s.NewDocument(daq.ProbeClass)
	require.NoError(t, err)
	assert.Equal(t, s.ID(), d.SessionID())
	assert.ElementsMatch(t, []string{"element", "base"}, d.Class.Superclasses)

	_, err = s.NewDocument("no_such_class")
	assert.Error(t, err)
}
