package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/store"
	"github.com/roach88/ndicore/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) *store.Store {
		s, err := Open(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func markerExists(t *testing.T, root, dependent, target string) bool {
	t.Helper()
	_, err := os.Stat(filepath.Join(root, LookupDir, MarkerName(dependent, target)))
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestCascadeDelete_RemovesMarker(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	root := s.Backend().(*Backend).Root()

	p := storetest.NewDoc("probe", "p")
	c := storetest.NewDoc("channel", "c")
	c.SetDependency("child", p.ID())
	require.NoError(t, s.Add(ctx, p))
	require.NoError(t, s.Add(ctx, c))

	assert.FileExists(t, filepath.Join(dir, ".ndi", "documents", p.ID()+".dat"))
	assert.True(t, markerExists(t, root, c.ID(), p.ID()))

	err = s.Delete(ctx, p.ID(), false)
	assert.True(t, ndierr.Is(err, ndierr.KindCascadeRequired), "got %v", err)
	assert.True(t, markerExists(t, root, c.ID(), p.ID()))

	require.NoError(t, s.Delete(ctx, p.ID(), true))
	assert.False(t, markerExists(t, root, c.ID(), p.ID()))
	assert.NoFileExists(t, filepath.Join(root, p.ID()+".dat"))
	assert.NoFileExists(t, filepath.Join(root, c.ID()+".dat"))
}

func TestPut_ReplacesMarkers(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(t.TempDir())
	require.NoError(t, err)

	d := storetest.NewDoc("channel", "c")
	d.SetDependency("probe_id", "p1")
	require.NoError(t, b.Put(ctx, d))
	assert.True(t, markerExists(t, b.Root(), d.ID(), "p1"))

	d.SetDependency("probe_id", "p2")
	require.NoError(t, b.Put(ctx, d))
	assert.False(t, markerExists(t, b.Root(), d.ID(), "p1"))
	assert.True(t, markerExists(t, b.Root(), d.ID(), "p2"))

	deps, err := b.Dependents(ctx, "p2")
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID()}, deps)
}

func TestIDs_IgnoresStrayFiles(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(t.TempDir())
	require.NoError(t, err)
	d := storetest.NewDoc("probe", "p")
	require.NoError(t, b.Put(ctx, d))
	require.NoError(t, os.WriteFile(filepath.Join(b.Root(), ".tmp-123"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b.Root(), "notes.txt"), []byte("x"), 0o644))

	ids, err := b.IDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{d.ID()}, ids)
}

func TestGet_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	b, err := NewBackend(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(b.Root(), "bad.dat"), []byte("NDI1 garbage"), 0o644))

	_, err = b.Get(ctx, "bad")
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument), "got %v", err)

	_, err = b.Get(ctx, "../escape")
	assert.True(t, ndierr.Is(err, ndierr.KindNotFound))
}
