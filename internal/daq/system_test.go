package daq

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/cache"
	"github.com/roach88/ndicore/internal/clocktype"
	"github.com/roach88/ndicore/internal/epoch"
	"github.com/roach88/ndicore/internal/ir"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/schema"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/memstore"
	"github.com/roach88/ndicore/internal/testutil"
)

const probeMapHeader = "name\treference\ttype\tdevicestring\tsubjectstring\n"

// countingReader records the channel lists passed to ReadSamples.
type countingReader struct {
	*SyntheticReader
	calls [][]int
}

func (r *countingReader) ReadSamples(ctx context.Context, ct ChannelType, channels []int, files []string, s0, s1 int64) ([][]float64, error) {
	r.calls = append(r.calls, slices.Clone(channels))
	return r.SyntheticReader.ReadSamples(ctx, ct, channels, files, s0, s1)
}

type stimReader struct{ value string }

func (s stimReader) ReadMetadata(ctx context.Context, files []string) (ir.IRObject, error) {
	return ir.Obj(ir.O("stimulus", ir.IRString(s.value)), ir.O("files", ir.IRInt(len(files)))), nil
}

const (
	probeMap1 = probeMapHeader +
		"ctx\t1\tn-trode\tintan1:ai1-4\tmouse1\n" +
		"hpc\t1\tn-trode\tintan1:ai5-8\tmouse1\n" +
		"eye\t1\tcamera\tvideo1:ai1\tmouse1\n"
	probeMap2 = probeMapHeader +
		"ctx\t1\tn-trode\tintan1:ai1-4\tmouse1\n"
)

func writeRecording(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"rec_1.bin":               "one",
		"rec_1.epochprobemap.txt": probeMap1,
		"rec_2.bin":               "two",
		"rec_2.epochprobemap.txt": probeMap2,
	})
	return root
}

func testConfig() Config {
	return Config{
		Name:   "intan1",
		Reader: "synthetic",
		Navigator: epoch.Params{
			FileMatchPatterns:   []string{`rec_#\.bin`},
			MetadataFilePattern: `rec_#\.epochprobemap\.txt`,
		},
	}
}

func newTestSystem(t *testing.T, root string, cfg Config, reader Reader, opts ...SystemOption) *System {
	t.Helper()
	reg := NewRegistry()
	reg.Register("synthetic", reader)
	reg.RegisterMetadata("stim", stimReader{value: "gratings"})
	navOpts := []epoch.Option{
		epoch.WithCache(cache.New(1<<20, cache.FIFO)),
		epoch.WithSessionID("sess-1"),
	}
	s, err := reg.Build(cfg, root, navOpts, opts...)
	require.NoError(t, err)
	return s
}

func TestSystem_EpochTable(t *testing.T) {
	s := newTestSystem(t, writeRecording(t), testConfig(), NewSyntheticReader(8, 1000, 100))

	table, err := s.EpochTable(context.Background())
	require.NoError(t, err)
	require.Len(t, table, 2)
	for _, e := range table {
		assert.Equal(t, "sess-1", e.SessionID)
		assert.Equal(t, []clocktype.ClockType{clocktype.DevLocalTime}, e.Clocks)
		assert.Equal(t, [][2]float64{{0, 0.099}}, e.T0T1)
	}
}

func TestSystem_EpochTableRejectsProbeMap(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFiles(t, root, map[string]string{
		"rec_1.bin":               "one",
		"rec_1.epochprobemap.txt": probeMapHeader + "ctx\t1\tn-trode\tintan1:ai20\tmouse1\n",
	})
	s := newTestSystem(t, root, testConfig(), NewSyntheticReader(8, 1000, 100))

	_, err := s.EpochTable(context.Background())
	require.Error(t, err)
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}

func TestRegistry_BuildUnknownReader(t *testing.T) {
	reg := NewRegistry()
	cfg := testConfig()
	_, err := reg.Build(cfg, t.TempDir(), nil)
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))

	reg.Register("synthetic", NewSyntheticReader(1, 1, 1))
	cfg.MetadataReaders = []string{"missing"}
	_, err = reg.Build(cfg, t.TempDir(), nil)
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
	assert.Equal(t, []string{"synthetic"}, reg.Names())
}

func TestSystem_ReadChannelsGroupsCalls(t *testing.T) {
	cfg := testConfig()
	cfg.GroupSizes = map[string]int{"ai": 4}
	reader := &countingReader{SyntheticReader: NewSyntheticReader(8, 1000, 100)}
	s := newTestSystem(t, writeRecording(t), cfg, reader)
	ctx := context.Background()

	table, err := s.EpochTable(ctx)
	require.NoError(t, err)

	data, err := s.ReadChannels(ctx, AnalogIn, []int{5, 1, 2, 7}, table[0].ID, 10, 12)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2}, {5, 7}}, reader.calls)
	require.Len(t, data, 4)
	assert.Equal(t, []float64{5e6 + 10, 5e6 + 11, 5e6 + 12}, data[0])
	assert.Equal(t, []float64{1e6 + 10, 1e6 + 11, 1e6 + 12}, data[1])
	assert.Equal(t, []float64{7e6 + 10, 7e6 + 11, 7e6 + 12}, data[3])

	_, err = s.ReadChannels(ctx, AnalogIn, []int{1}, "no-such-epoch", 0, 1)
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}

func TestSystem_ChannelsRateMetadata(t *testing.T) {
	cfg := testConfig()
	cfg.MetadataReaders = []string{"stim"}
	s := newTestSystem(t, writeRecording(t), cfg, NewSyntheticReader(8, 500, 10))
	ctx := context.Background()
	table, err := s.EpochTable(ctx)
	require.NoError(t, err)

	chans, err := s.Channels(ctx, table[0].ID)
	require.NoError(t, err)
	require.Len(t, chans, 8)
	assert.Equal(t, "ai1", chans[0].Name)
	assert.Equal(t, table[0].Files[0], chans[0].SourceFile)

	rate, err := s.SampleRate(ctx, table[0].ID, AnalogIn, 2)
	require.NoError(t, err)
	assert.Equal(t, 500.0, rate)

	md, err := s.Metadata(ctx, table[0].ID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("gratings"), md["stimulus"])
}

func TestSystem_Probes(t *testing.T) {
	root := writeRecording(t)
	s := newTestSystem(t, root, testConfig(), NewSyntheticReader(8, 1000, 100), WithSystemID("0123456789abcdef0123456789abcdef"))
	ctx := context.Background()

	probes, err := s.Probes(ctx)
	require.NoError(t, err)
	require.Len(t, probes, 2)
	assert.Equal(t, "ctx|1|n-trode", probes[0].Key())
	assert.Equal(t, "hpc|1|n-trode", probes[1].Key())
	assert.Equal(t, "mouse1", probes[0].SubjectString)
	assert.Len(t, probes[0].ID(), 32)

	again := newTestSystem(t, root, testConfig(), NewSyntheticReader(8, 1000, 100), WithSystemID("0123456789abcdef0123456789abcdef"))
	probes2, err := again.Probes(ctx)
	require.NoError(t, err)
	assert.Equal(t, probes[0].ID(), probes2[0].ID())

	ctxTable, err := probes[0].EpochTable(ctx)
	require.NoError(t, err)
	assert.Len(t, ctxTable, 2)

	hpcTable, err := probes[1].EpochTable(ctx)
	require.NoError(t, err)
	require.Len(t, hpcTable, 1)
	assert.Equal(t, 1, hpcTable[0].Number)
	require.Len(t, hpcTable[0].ProbeMap, 1)
	assert.Equal(t, "hpc", hpcTable[0].ProbeMap[0].Name)

	refs, err := probes[1].Channels(hpcTable[0])
	require.NoError(t, err)
	assert.Equal(t, []ChannelRef{{AnalogIn, 5}, {AnalogIn, 6}, {AnalogIn, 7}, {AnalogIn, 8}}, refs)

	data, err := probes[1].ReadSamples(ctx, hpcTable[0].ID, AnalogIn, 0, 1)
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, []float64{5e6, 5e6 + 1}, data[0])
}

func TestSystem_DocumentsValidate(t *testing.T) {
	s := newTestSystem(t, writeRecording(t), testConfig(), NewSyntheticReader(8, 1000, 100))
	ctx := context.Background()

	docs, err := s.Documents(ctx)
	require.NoError(t, err)
	// navigator, system, 2 probes, ctx 4 channels x 2 epochs, hpc 4 channels
	require.Len(t, docs, 16)
	assert.Equal(t, epoch.NavigatorClass, docs[0].ClassName())
	assert.Equal(t, SystemClass, docs[1].ClassName())
	assert.Equal(t, ProbeClass, docs[2].ClassName())
	assert.True(t, docs[2].IsA(ElementClass))
	assert.Equal(t, ChannelClass, docs[15].ClassName())

	st, err := memstore.Open(t.TempDir(), store.WithRegistry(schema.MustNewRegistry()))
	require.NoError(t, err)
	defer st.Close()
	for _, d := range docs {
		require.NoError(t, st.Add(ctx, d), d.ClassName())
	}

	probeID, ok := docs[2].Dependency("daqsystem_id")
	require.True(t, ok)
	assert.Equal(t, s.ID(), probeID)
}

func TestElement_WrapsUnderlyingEpochs(t *testing.T) {
	s := newTestSystem(t, writeRecording(t), testConfig(), NewSyntheticReader(8, 1000, 100))
	ctx := context.Background()
	probes, err := s.Probes(ctx)
	require.NoError(t, err)

	el, err := NewElement("ctx_units", 1, "spikes", probes[0])
	require.NoError(t, err)
	table, err := el.EpochTable(ctx)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, table[0].ID, table[0].Underlying[0].ID)
	assert.Equal(t, []clocktype.ClockType{clocktype.DevLocalTime}, table[0].Clocks)
	assert.Equal(t, "sess-1", el.SessionID())

	d := el.Document()
	dep, ok := d.Dependency("underlying_element_id")
	require.True(t, ok)
	assert.Equal(t, probes[0].ID(), dep)

	_, err = NewElement("1bad", 0, "x", probes[0])
	assert.Error(t, err)
	_, err = NewElement("ok", -1, "x", probes[0])
	assert.Error(t, err)
}
