// Package cloudsync reconciles a session's document store with a remote
// mirror. A persisted index of what each side held after the last sync
// lets the engine tell additions from deletions.
package cloudsync

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/roach88/ndicore/internal/ndierr"
)

// IndexDir is the sync state directory under a session root.
const IndexDir = ".ndi/sync"

// IndexFile is the index file name inside IndexDir.
const IndexFile = "index.json"

// Index is the membership of both sides after the last sync.
type Index struct {
	LocalIDs  []string `json:"local_document_ids_last_sync"`
	RemoteIDs []string `json:"remote_document_ids_last_sync"`
	LastSync  string   `json:"last_sync_timestamp"`
}

// IndexPath returns the index location for the session rooted at dir.
func IndexPath(dir string) string {
	return filepath.Join(dir, filepath.FromSlash(IndexDir), IndexFile)
}

// LoadIndex reads the index at path. A missing file is an empty index.
func LoadIndex(path string) (Index, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Index{LocalIDs: []string{}, RemoteIDs: []string{}}, nil
	}
	if err != nil {
		return Index{}, ndierr.IO("cloudsync.load_index", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, ndierr.Invalid("cloudsync.load_index", "%s: %v", path, err)
	}
	idx.normalize()
	return idx, nil
}

func (idx *Index) normalize() {
	if idx.LocalIDs == nil {
		idx.LocalIDs = []string{}
	}
	if idx.RemoteIDs == nil {
		idx.RemoteIDs = []string{}
	}
	slices.Sort(idx.LocalIDs)
	idx.LocalIDs = slices.Compact(idx.LocalIDs)
	slices.Sort(idx.RemoteIDs)
	idx.RemoteIDs = slices.Compact(idx.RemoteIDs)
}

// Marshal renders the index as indented JSON with sorted id lists.
func (idx Index) Marshal() ([]byte, error) {
	idx.LocalIDs = slices.Clone(idx.LocalIDs)
	idx.RemoteIDs = slices.Clone(idx.RemoteIDs)
	idx.normalize()
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteIndex replaces the index at path. Writers hold an exclusive flock on
// a sibling lock file; the new content is renamed into place.
func WriteIndex(path string, idx Index) error {
	const op = "cloudsync.write_index"
	data, err := idx.Marshal()
	if err != nil {
		return ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ndierr.IO(op, err)
	}

	unlock, err := lockFile(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(dir, ".index-*")
	if err != nil {
		return ndierr.IO(op, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ndierr.IO(op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ndierr.IO(op, err)
	}
	if err := tmp.Close(); err != nil {
		return ndierr.IO(op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ndierr.IO(op, err)
	}
	return nil
}

func lockFile(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ndierr.IO("cloudsync.lock_index", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, ndierr.IO("cloudsync.lock_index", err)
	}
	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
