package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/ndicore/internal/ident"
	"github.com/roach88/ndicore/internal/ndierr"
)

type streamMode int

const (
	modeRead streamMode = iota
	modeWrite
)

// BinaryStream is a seekable byte stream over one binary attachment.
//
// Write streams write to a temporary file next to the target; Close renames
// it into place, so readers never observe a partial file. Abort discards a
// write stream instead.
type BinaryStream struct {
	f      *os.File
	mode   streamMode
	target string
	commit func() func() // acquires the per-id lock for the rename
	closed bool
}

var (
	_ io.ReadWriteSeeker = (*BinaryStream)(nil)
	_ io.Closer          = (*BinaryStream)(nil)
)

// Read reads up to len(p) bytes.
func (b *BinaryStream) Read(p []byte) (int, error) {
	if err := b.usable("read", modeRead); err != nil {
		return 0, err
	}
	return b.f.Read(p)
}

// ReadN reads at most n bytes. A short result with a nil error means the
// stream reached its end.
func (b *BinaryStream) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(b, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = nil
	}
	return buf[:got], err
}

// Write appends p at the current offset.
func (b *BinaryStream) Write(p []byte) (int, error) {
	if err := b.usable("write", modeWrite); err != nil {
		return 0, err
	}
	return b.f.Write(p)
}

// Seek sets the offset for the next Read or Write.
func (b *BinaryStream) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return 0, ndierr.Invalid("binary.seek", "stream is closed")
	}
	return b.f.Seek(offset, whence)
}

// Tell returns the current offset.
func (b *BinaryStream) Tell() (int64, error) {
	return b.Seek(0, io.SeekCurrent)
}

// EOF reports whether the offset is at or past the end of the data.
func (b *BinaryStream) EOF() (bool, error) {
	pos, err := b.Tell()
	if err != nil {
		return false, err
	}
	info, err := b.f.Stat()
	if err != nil {
		return false, ndierr.IO("binary.eof", err)
	}
	return pos >= info.Size(), nil
}

// Close releases the stream. For write streams it syncs and renames the
// data into place.
func (b *BinaryStream) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if b.mode == modeRead {
		return b.f.Close()
	}

	tmp := b.f.Name()
	if err := b.f.Sync(); err != nil {
		b.f.Close()
		os.Remove(tmp)
		return ndierr.IO("binary.close", err)
	}
	if err := b.f.Close(); err != nil {
		os.Remove(tmp)
		return ndierr.IO("binary.close", err)
	}
	unlock := b.commit()
	defer unlock()
	if err := os.Rename(tmp, b.target); err != nil {
		os.Remove(tmp)
		return ndierr.IO("binary.close", err)
	}
	return nil
}

// Abort discards a write stream without touching the target. On a read
// stream it is the same as Close.
func (b *BinaryStream) Abort() error {
	if b.closed {
		return nil
	}
	if b.mode == modeRead {
		return b.Close()
	}
	b.closed = true
	tmp := b.f.Name()
	b.f.Close()
	if err := os.Remove(tmp); err != nil {
		return ndierr.IO("binary.abort", err)
	}
	return nil
}

func (b *BinaryStream) usable(op string, want streamMode) error {
	if b.closed {
		return ndierr.Invalid("binary."+op, "stream is closed")
	}
	if b.mode != want {
		return ndierr.Invalid("binary."+op, "stream is not open for %s", op)
	}
	return nil
}

// binaryDir is the attachment directory of id. Only identifiers are
// accepted, so the result always stays under the binary root.
func (s *Store) binaryDir(id string) (string, error) {
	if !ident.Valid(id) {
		return "", ndierr.Invalid("binary.id", "invalid document id %q", id)
	}
	return filepath.Join(s.binaryRoot, id), nil
}

// BinaryPath returns where the attachment filename of id lives on disk.
func (s *Store) BinaryPath(id, filename string) (string, error) {
	if err := checkFilename(filename); err != nil {
		return "", err
	}
	dir, err := s.binaryDir(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

func checkFilename(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".tmp-") {
		return ndierr.Invalid("binary.filename", "invalid binary filename %q", name)
	}
	return nil
}

// OpenWriteStream opens a stream that replaces attachment filename of the
// document id when closed. The document must be stored.
func (s *Store) OpenWriteStream(ctx context.Context, id, filename string) (*BinaryStream, error) {
	const op = "store.open_write_stream"
	target, err := s.BinaryPath(id, filename)
	if err != nil {
		return nil, err
	}
	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ndierr.IO(op, err)
	}
	f, err := os.CreateTemp(dir, ".tmp-"+filename+"-*")
	if err != nil {
		return nil, ndierr.IO(op, err)
	}
	return &BinaryStream{
		f:      f,
		mode:   modeWrite,
		target: target,
		commit: func() func() { return s.locks.Lock(id) },
	}, nil
}

// OpenReadStream opens attachment filename of document id for reading.
func (s *Store) OpenReadStream(ctx context.Context, id, filename string) (*BinaryStream, error) {
	const op = "store.open_read_stream"
	path, err := s.BinaryPath(id, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ndierr.NotFound(op, "binary", id+"/"+filename)
	}
	if err != nil {
		return nil, ndierr.IO(op, err)
	}
	return &BinaryStream{f: f, mode: modeRead}, nil
}

// ExistsBinary reports whether document id has attachment filename.
func (s *Store) ExistsBinary(ctx context.Context, id, filename string) (bool, error) {
	path, err := s.BinaryPath(id, filename)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, ndierr.IO("store.exists_binary", err)
	}
	return true, nil
}

// DeleteBinary removes attachment filename of document id.
func (s *Store) DeleteBinary(ctx context.Context, id, filename string) error {
	const op = "store.delete_binary"
	path, err := s.BinaryPath(id, filename)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ndierr.NotFound(op, "binary", id+"/"+filename)
	}
	if err != nil {
		return ndierr.IO(op, err)
	}
	return nil
}

// ListBinaries returns the attachment names of document id, sorted.
func (s *Store) ListBinaries(ctx context.Context, id string) ([]string, error) {
	dir, err := s.binaryDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ndierr.IO("store.list_binaries", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".tmp-") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// CopyBinary copies attachment filename of id from src into s.
func (s *Store) CopyBinary(ctx context.Context, src *Store, id, filename string) error {
	in, err := src.OpenReadStream(ctx, id, filename)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := s.OpenWriteStream(ctx, id, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Abort()
		return fmt.Errorf("store.copy_binary: %w", err)
	}
	return out.Close()
}
