package cloudsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/ndierr"
)

func TestIndex_Golden(t *testing.T) {
	idx := Index{
		LocalIDs:  []string{"d3", "d1", "d3"},
		RemoteIDs: []string{"d1"},
		LastSync:  "2024-01-02T03:04:05.000000Z",
	}
	data, err := idx.Marshal()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "sync_index", data)
	assert.Equal(t, []string{"d3", "d1", "d3"}, idx.LocalIDs, "Marshal must not reorder the caller's slice")
}

func TestIndex_WriteLoad(t *testing.T) {
	dir := t.TempDir()
	path := IndexPath(dir)
	assert.Equal(t, filepath.Join(dir, ".ndi", "sync", "index.json"), path)

	empty, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Empty(t, empty.LocalIDs)
	assert.NotNil(t, empty.RemoteIDs)

	want := Index{LocalIDs: []string{"b", "a"}, RemoteIDs: []string{"c"}, LastSync: "2024-01-02T03:04:05.000000Z"}
	require.NoError(t, WriteIndex(path, want))
	got, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got.LocalIDs)
	assert.Equal(t, []string{"c"}, got.RemoteIDs)
	assert.Equal(t, want.LastSync, got.LastSync)

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestLoadIndex_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := LoadIndex(path)
	assert.True(t, ndierr.Is(err, ndierr.KindInvalidArgument))
}
