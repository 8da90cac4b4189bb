package cloudsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/memstore"
	"github.com/roach88/ndicore/internal/testutil"
)

// memRemote keeps documents and files in memory. Archives become ready
// after notReady failed polls.
type memRemote struct {
	dataset  string
	order    []string
	docs     map[string]*document.Document
	files    map[string][]byte
	notReady int

	urls     map[string][]string
	polls    int
	bulk     [][]string
	uploaded []string
	deleted  []string
	onFetch  func()
}

func newMemRemote(docs ...*document.Document) *memRemote {
	r := &memRemote{
		dataset: "ds1",
		docs:    make(map[string]*document.Document),
		files:   make(map[string][]byte),
		urls:    make(map[string][]string),
	}
	for _, d := range docs {
		r.put(d)
	}
	return r
}

func (r *memRemote) put(d *document.Document) {
	if _, ok := r.docs[d.ID()]; !ok {
		r.order = append(r.order, d.ID())
	}
	r.docs[d.ID()] = d.Clone()
}

func (r *memRemote) DatasetID() string { return r.dataset }

func (r *memRemote) ListDocumentIDs(ctx context.Context) ([]string, error) {
	return slices.Clone(r.order), nil
}

func (r *memRemote) BulkDownloadURL(ctx context.Context, ids []string) (string, error) {
	url := fmt.Sprintf("mem://archive/%d", len(r.urls))
	r.urls[url] = slices.Clone(ids)
	r.bulk = append(r.bulk, slices.Clone(ids))
	return url, nil
}

func (r *memRemote) FetchArchive(ctx context.Context, url string) ([]byte, error) {
	r.polls++
	if r.notReady > 0 {
		r.notReady--
		return nil, ndierr.Transport("mem.fetch", errors.New("404 not ready"))
	}
	if r.onFetch != nil {
		r.onFetch()
	}
	var docs []*document.Document
	for _, id := range r.urls[url] {
		docs = append(docs, r.docs[id])
	}
	return BuildArchive(docs)
}

func (r *memRemote) UploadDocument(ctx context.Context, d *document.Document) error {
	r.put(d)
	r.uploaded = append(r.uploaded, d.ID())
	return nil
}

func (r *memRemote) DeleteDocuments(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(r.docs, id)
		r.order = slices.DeleteFunc(r.order, func(s string) bool { return s == id })
	}
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *memRemote) HasFile(ctx context.Context, uid string) (bool, error) {
	_, ok := r.files[uid]
	return ok, nil
}

func (r *memRemote) UploadFile(ctx context.Context, uid string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	r.files[uid] = data
	return nil
}

func (r *memRemote) DownloadFile(ctx context.Context, uid string) (io.ReadCloser, error) {
	data, ok := r.files[uid]
	if !ok {
		return nil, ndierr.NotFound("mem.download_file", "file", uid)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func docID(n int) string { return fmt.Sprintf("%032x", n) }

func newDoc(n int) *document.Document {
	return document.New("base", "", document.WithID(docID(n)), document.WithName(fmt.Sprintf("d%d", n)))
}

func newLocalStore(t *testing.T, docs ...*document.Document) *store.Store {
	t.Helper()
	st, err := memstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	for _, d := range docs {
		require.NoError(t, st.Add(context.Background(), d))
	}
	return st
}

func newTestEngine(t *testing.T, st *store.Store, remote Remote) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(st, remote, dir, WithClock(testutil.NewFakeClock())), dir
}

func TestEngine_TwoWayWithDeletions(t *testing.T) {
	ctx := context.Background()
	st := newLocalStore(t, newDoc(1), newDoc(3))
	remote := newMemRemote(newDoc(1), newDoc(4))
	e, _ := newTestEngine(t, st, remote)
	require.NoError(t, WriteIndex(e.IndexPath(), Index{
		LocalIDs:  []string{docID(1), docID(2)},
		RemoteIDs: []string{docID(1), docID(2)},
	}))

	report, err := e.Run(ctx, Options{Mode: TwoWaySync})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Len(t, report.RunID, 26)
	assert.Equal(t, []string{docID(4)}, report.Downloaded)
	assert.Equal(t, []string{docID(3)}, report.Uploaded)
	assert.Empty(t, report.DeletedLocal)
	assert.Empty(t, report.DeletedRemote)
	assert.True(t, report.IndexWritten)

	want := []string{docID(1), docID(3), docID(4)}
	idx, err := LoadIndex(e.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, want, idx.LocalIDs)
	assert.Equal(t, want, idx.RemoteIDs)
	assert.Equal(t, "2024-01-02T03:04:05.000000Z", idx.LastSync)

	local, err := st.IDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, want, local)
	assert.ElementsMatch(t, want, remote.order)

	// a second round has nothing to do
	again, err := e.Run(ctx, Options{Mode: TwoWaySync})
	require.NoError(t, err)
	assert.True(t, again.Delta.Empty())
	assert.NotEqual(t, report.RunID, again.RunID)
}

func TestEngine_DryRunTouchesNothing(t *testing.T) {
	st := newLocalStore(t, newDoc(1))
	remote := newMemRemote(newDoc(2))
	e, _ := newTestEngine(t, st, remote)

	report, err := e.Run(context.Background(), Options{Mode: MirrorFromRemote, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{docID(2)}, report.Delta.ToDownload)
	assert.Equal(t, []string{docID(1)}, report.Delta.ToDeleteLocal)
	assert.Empty(t, report.Downloaded)
	assert.Empty(t, remote.bulk)
	assert.False(t, report.IndexWritten)
	_, err = os.Stat(e.IndexPath())
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_ChunkedDownloadWithPolling(t *testing.T) {
	remote := newMemRemote(newDoc(1), newDoc(2), newDoc(3), newDoc(4), newDoc(5))
	remote.notReady = 2
	st := newLocalStore(t)
	e, _ := newTestEngine(t, st, remote)

	report, err := e.Run(context.Background(), Options{Mode: DownloadNew, ChunkSize: 2, PollInterval: time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{docID(1), docID(2)}, {docID(3), docID(4)}, {docID(5)}}, remote.bulk)
	assert.Equal(t, 3, report.ChunksCompleted)
	assert.Equal(t, 5, remote.polls)
	assert.Equal(t, remote.order, report.Downloaded)
}

func TestEngine_PollTimeout(t *testing.T) {
	remote := newMemRemote(newDoc(1))
	remote.notReady = 1000
	e, _ := newTestEngine(t, newLocalStore(t), remote)

	report, err := e.Run(context.Background(), Options{
		Mode:         DownloadNew,
		Timeout:      20 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, ndierr.Is(err, ndierr.KindTransportFailure))
	assert.False(t, report.Success)
	assert.Contains(t, report.ErrorMessage, "not ready")
	assert.False(t, report.IndexWritten)
}

func TestEngine_DownloadWaitsForDependencies(t *testing.T) {
	child := newDoc(1)
	child.SetDependency("parent", docID(2))
	remote := newMemRemote(child, newDoc(2))
	st := newLocalStore(t)
	e, _ := newTestEngine(t, st, remote)

	report, err := e.Run(context.Background(), Options{Mode: DownloadNew, ChunkSize: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{docID(2), docID(1)}, report.Downloaded)

	missing := newDoc(3)
	missing.SetDependency("parent", docID(9))
	remote.put(missing)
	_, err = e.Run(context.Background(), Options{Mode: DownloadNew})
	assert.True(t, ndierr.Is(err, ndierr.KindDependencyMissing))
}

func TestEngine_FileLocations(t *testing.T) {
	withFile := func() *document.Document {
		d := newDoc(1)
		d.Files = []document.FileInfo{{
			Filename:  "raw.bin",
			Locations: []document.FileLocation{{Location: "/lab/raw.bin", LocationType: document.LocationFile, UID: "uid-raw"}},
		}}
		return d
	}

	t.Run("cloud only", func(t *testing.T) {
		remote := newMemRemote(withFile())
		remote.files["uid-raw"] = []byte("samples")
		st := newLocalStore(t)
		e, _ := newTestEngine(t, st, remote)

		report, err := e.Run(context.Background(), Options{Mode: DownloadNew, Files: FilesCloudOnly})
		require.NoError(t, err)
		assert.Zero(t, report.FilesDownloaded)

		got, err := st.FindByID(context.Background(), docID(1))
		require.NoError(t, err)
		loc := got.Files[0].Locations[0]
		assert.Equal(t, "ndic://ds1/uid-raw", loc.Location)
		assert.Equal(t, document.LocationNDICloud, loc.LocationType)
	})

	t.Run("local", func(t *testing.T) {
		remote := newMemRemote(withFile())
		remote.files["uid-raw"] = []byte("samples")
		st := newLocalStore(t)
		e, _ := newTestEngine(t, st, remote)

		report, err := e.Run(context.Background(), Options{Mode: DownloadNew})
		require.NoError(t, err)
		assert.Equal(t, 1, report.FilesDownloaded)

		got, err := st.FindByID(context.Background(), docID(1))
		require.NoError(t, err)
		loc := got.Files[0].Locations[0]
		want, err := st.BinaryPath(docID(1), "raw.bin")
		require.NoError(t, err)
		assert.Equal(t, want, loc.Location)
		assert.Equal(t, document.LocationFile, loc.LocationType)

		body, err := os.ReadFile(want)
		require.NoError(t, err)
		assert.Equal(t, "samples", string(body))
	})
}

func TestEngine_UploadSkipsFilesAlreadyRemote(t *testing.T) {
	ctx := context.Background()
	d := newDoc(1)
	d.Files = []document.FileInfo{
		{Filename: "a.bin", Locations: []document.FileLocation{{LocationType: document.LocationFile, UID: "uid-a"}}},
		{Filename: "b.bin", Locations: []document.FileLocation{{LocationType: document.LocationFile, UID: "uid-b"}}},
	}
	st := newLocalStore(t, d)
	for _, name := range []string{"a.bin", "b.bin"} {
		w, err := st.OpenWriteStream(ctx, docID(1), name)
		require.NoError(t, err)
		_, err = w.Write([]byte(strings.ToUpper(name)))
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	remote := newMemRemote()
	remote.files["uid-a"] = []byte("already there")
	e, _ := newTestEngine(t, st, remote)

	report, err := e.Run(ctx, Options{Mode: UploadNew, SerialFileUpload: true})
	require.NoError(t, err)
	assert.Equal(t, []string{docID(1)}, remote.uploaded)
	assert.Equal(t, 1, report.FilesUploaded)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Equal(t, "already there", string(remote.files["uid-a"]))
	assert.Equal(t, "B.BIN", string(remote.files["uid-b"]))
}

func TestEngine_MirrorDeletes(t *testing.T) {
	ctx := context.Background()
	st := newLocalStore(t, newDoc(1), newDoc(2))
	remote := newMemRemote(newDoc(1), newDoc(3))
	e, _ := newTestEngine(t, st, remote)

	report, err := e.Run(ctx, Options{Mode: MirrorToRemote})
	require.NoError(t, err)
	assert.Equal(t, []string{docID(2)}, report.Uploaded)
	assert.Equal(t, []string{docID(3)}, report.DeletedRemote)
	assert.ElementsMatch(t, []string{docID(1), docID(2)}, remote.order)

	remote.put(newDoc(4))
	report, err = e.Run(ctx, Options{Mode: MirrorFromRemote})
	require.NoError(t, err)
	assert.Equal(t, []string{docID(4)}, report.Downloaded)
	assert.Empty(t, report.DeletedLocal)
}

func TestEngine_CancelBetweenChunks(t *testing.T) {
	remote := newMemRemote(newDoc(1), newDoc(2), newDoc(3))
	st := newLocalStore(t)
	e, _ := newTestEngine(t, st, remote)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote.onFetch = cancel

	report, err := e.Run(ctx, Options{Mode: DownloadNew, ChunkSize: 1})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)
	assert.Equal(t, 1, report.ChunksCompleted)
	assert.True(t, report.IndexWritten)

	// the two documents not fetched stay new for the next round
	idx, err := LoadIndex(e.IndexPath())
	require.NoError(t, err)
	assert.Equal(t, []string{docID(1)}, idx.RemoteIDs)
	assert.Equal(t, []string{docID(1)}, idx.LocalIDs)

	report, err = e.Run(context.Background(), Options{Mode: DownloadNew})
	require.NoError(t, err)
	assert.Equal(t, []string{docID(2), docID(3)}, report.Downloaded)
}

func TestEngine_RejectsBadOptions(t *testing.T) {
	e, _ := newTestEngine(t, newLocalStore(t), newMemRemote())
	_, err := e.Run(context.Background(), Options{Mode: "bogus"})
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
	_, err = e.Run(context.Background(), Options{Mode: TwoWaySync, Files: "tape"})
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}
