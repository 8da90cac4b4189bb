package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
	"github.com/roach88/ndicore/internal/store"
)

// Transfer limits and defaults.
const (
	MaxChunkSize        = 2000
	DefaultTimeout      = 20 * time.Second
	DefaultPollInterval = time.Second
)

// FileMode decides where downloaded files end up.
type FileMode string

const (
	// FilesLocal copies file bytes into the store's binary area.
	FilesLocal FileMode = "local"
	// FilesCloudOnly leaves bytes remote and points locations at them.
	FilesCloudOnly FileMode = "cloud"
)

// Options configure one sync round.
type Options struct {
	Mode   Mode
	DryRun bool

	// ChunkSize bounds ids per bulk request; 0 or anything above
	// MaxChunkSize means MaxChunkSize.
	ChunkSize int
	// Timeout bounds how long a presigned archive is polled.
	Timeout      time.Duration
	PollInterval time.Duration
	Files        FileMode

	// SerialFileUpload uploads a document's files right after the document
	// instead of after the whole chunk.
	SerialFileUpload bool
	Verbose          bool
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 || o.ChunkSize > MaxChunkSize {
		o.ChunkSize = MaxChunkSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Files == "" {
		o.Files = FilesLocal
	}
	return o
}

// Report is the outcome of a round. A failed round still reports the work
// it applied.
type Report struct {
	RunID  string `json:"run_id"`
	Mode   Mode   `json:"mode"`
	DryRun bool   `json:"dry_run"`
	Delta  Delta  `json:"delta"`

	Downloaded    []string `json:"downloaded"`
	Uploaded      []string `json:"uploaded"`
	DeletedLocal  []string `json:"deleted_local"`
	DeletedRemote []string `json:"deleted_remote"`

	FilesDownloaded int `json:"files_downloaded"`
	FilesUploaded   int `json:"files_uploaded"`
	FilesSkipped    int `json:"files_skipped"`

	ChunksCompleted int  `json:"chunks_completed"`
	Canceled        bool `json:"canceled"`
	IndexWritten    bool `json:"index_written"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Clock supplies the last-sync timestamp.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Engine syncs one session store against a remote.
type Engine struct {
	store     *store.Store
	remote    Remote
	indexPath string
	clock     Clock
	logger    *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an engine for the store of the session rooted at
// sessionDir.
func NewEngine(st *store.Store, remote Remote, sessionDir string, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     st,
		remote:    remote,
		indexPath: IndexPath(sessionDir),
		clock:     systemClock{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IndexPath is where the engine keeps its index.
func (e *Engine) IndexPath() string { return e.indexPath }

// round is the mutable state of one Run.
type round struct {
	opts   Options
	report *Report
	log    *slog.Logger

	// downloads that failed on a missing dependency, retried after every
	// chunk
	pending []*document.Document
}

// Run performs one sync round. The index is rewritten when the round
// succeeds or when at least one chunk completed before a failure or
// cancellation. Cancellation is noticed between chunks.
func (e *Engine) Run(ctx context.Context, opts Options) (Report, error) {
	opts = opts.withDefaults()
	report := Report{RunID: ulid.Make().String(), Mode: opts.Mode, DryRun: opts.DryRun}
	r := &round{opts: opts, report: &report, log: e.logger.With("run_id", report.RunID, "mode", opts.Mode)}

	err := e.run(ctx, r)
	if err != nil {
		report.ErrorMessage = err.Error()
		r.log.Error("sync failed", "err", err, "chunks", report.ChunksCompleted)
	} else {
		report.Success = true
		r.log.Info("sync finished", "downloaded", len(report.Downloaded), "uploaded", len(report.Uploaded),
			"deleted_local", len(report.DeletedLocal), "deleted_remote", len(report.DeletedRemote))
	}
	return report, err
}

func (e *Engine) run(ctx context.Context, r *round) error {
	if _, err := ParseMode(string(r.opts.Mode)); err != nil {
		return err
	}
	if r.opts.Files != FilesLocal && r.opts.Files != FilesCloudOnly {
		return ndierr.Invalid("cloudsync.run", "unknown file mode %q", r.opts.Files)
	}
	idx, err := LoadIndex(e.indexPath)
	if err != nil {
		return err
	}
	local, err := e.store.IDs(ctx)
	if err != nil {
		return fmt.Errorf("cloudsync.list_local: %w", err)
	}
	remote, err := e.remote.ListDocumentIDs(ctx)
	if err != nil {
		return fmt.Errorf("cloudsync.list_remote: %w", err)
	}
	delta, err := ComputeDelta(r.opts.Mode, idx, local, remote)
	if err != nil {
		return err
	}
	r.report.Delta = delta
	for _, id := range delta.Conflicts {
		r.log.Warn("document added on both sides, skipped", "doc_id", id)
	}
	r.log.Info("sync delta", "delta", delta.String(), "dry_run", r.opts.DryRun)
	if r.opts.DryRun {
		return nil
	}

	runErr := e.apply(ctx, r, delta)
	canceled := errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
	r.report.Canceled = canceled
	if runErr != nil && r.report.ChunksCompleted == 0 {
		return runErr
	}

	next := e.nextIndex(ctx, r, delta, local, remote, runErr == nil)
	if err := WriteIndex(e.indexPath, next); err != nil {
		return errors.Join(runErr, err)
	}
	r.report.IndexWritten = true
	return runErr
}

// apply runs the delta chunk by chunk: downloads, uploads, local deletes,
// then remote deletes.
func (e *Engine) apply(ctx context.Context, r *round, d Delta) error {
	type phase struct {
		name string
		ids  []string
		fn   func(context.Context, *round, []string) error
	}
	phases := []phase{
		{"download", d.ToDownload, e.downloadChunk},
		{"upload", d.ToUpload, e.uploadChunk},
		{"delete_local", d.ToDeleteLocal, e.deleteLocalChunk},
		{"delete_remote", d.ToDeleteRemote, e.deleteRemoteChunk},
	}
	for _, p := range phases {
		for chunk := range slices.Chunk(p.ids, r.opts.ChunkSize) {
			if err := ctx.Err(); err != nil {
				r.log.Info("sync canceled", "phase", p.name, "chunks", r.report.ChunksCompleted)
				return err
			}
			if err := p.fn(ctx, r, chunk); err != nil {
				return fmt.Errorf("cloudsync.%s: %w", p.name, err)
			}
			r.report.ChunksCompleted++
			r.log.Debug("chunk done", "phase", p.name, "chunk", r.report.ChunksCompleted, "ids", len(chunk))
		}
		if p.name == "download" && len(r.pending) > 0 {
			ids := make([]string, len(r.pending))
			for i, doc := range r.pending {
				ids[i] = doc.ID()
			}
			return ndierr.New(ndierr.KindDependencyMissing, "cloudsync.download",
				"documents with unresolved dependencies: "+strings.Join(ids, ", "))
		}
	}
	return nil
}

// nextIndex is the membership to record. Work that was not applied keeps
// the shape it had in the old index so the next round sees it again.
func (e *Engine) nextIndex(ctx context.Context, r *round, d Delta, local, remote []string, complete bool) Index {
	rep := r.report
	done := func(list []string) map[string]bool {
		m := make(map[string]bool, len(list))
		for _, id := range list {
			m[id] = true
		}
		return m
	}
	downloaded, uploaded := done(rep.Downloaded), done(rep.Uploaded)
	delLocal, delRemote := done(rep.DeletedLocal), done(rep.DeletedRemote)

	newRemote := newIDSet(remote, rep.Uploaded)
	var remoteIDs []string
	for _, id := range newRemote.order {
		if delRemote[id] {
			continue
		}
		if slices.Contains(d.ToDownload, id) && !downloaded[id] {
			continue
		}
		remoteIDs = append(remoteIDs, id)
	}
	for _, id := range d.ToDeleteLocal {
		if !delLocal[id] && !newRemote.has[id] {
			remoteIDs = append(remoteIDs, id)
		}
	}

	var localIDs []string
	if complete {
		if ids, err := e.store.IDs(ctx); err == nil {
			localIDs = ids
		} else {
			complete = false
		}
	}
	if !complete {
		newLocal := newIDSet(local, rep.Downloaded)
		localIDs = nil
		for _, id := range newLocal.order {
			if delLocal[id] {
				continue
			}
			if slices.Contains(d.ToUpload, id) && !uploaded[id] {
				continue
			}
			localIDs = append(localIDs, id)
		}
		for _, id := range d.ToDeleteRemote {
			if !delRemote[id] && !newLocal.has[id] {
				localIDs = append(localIDs, id)
			}
		}
	}
	return Index{
		LocalIDs:  localIDs,
		RemoteIDs: remoteIDs,
		LastSync:  document.FormatDatestamp(e.clock.Now()),
	}
}

func (e *Engine) downloadChunk(ctx context.Context, r *round, ids []string) error {
	url, err := e.remote.BulkDownloadURL(ctx, ids)
	if err != nil {
		return err
	}
	data, err := e.fetch(ctx, r, url)
	if err != nil {
		return err
	}
	docs, err := ExtractArchive(data)
	if err != nil {
		return err
	}
	byID := make(map[string]*document.Document, len(docs))
	for _, d := range docs {
		byID[d.ID()] = d
	}
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return ndierr.NotFound("cloudsync.download", "document", id)
		}
		if err := e.addDownloaded(ctx, r, d); err != nil {
			return err
		}
	}
	return e.retryPending(ctx, r)
}

// fetch polls the presigned url until the archive is ready or the timeout
// passes.
func (e *Engine) fetch(ctx context.Context, r *round, url string) ([]byte, error) {
	deadline := time.Now().Add(r.opts.Timeout)
	for attempt := 1; ; attempt++ {
		data, err := e.remote.FetchArchive(ctx, url)
		if err == nil {
			return data, nil
		}
		if !ndierr.Retriable(err) {
			return nil, err
		}
		if !time.Now().Add(r.opts.PollInterval).Before(deadline) {
			return nil, ndierr.Wrap(ndierr.KindTransportFailure, "cloudsync.fetch_archive",
				fmt.Errorf("archive not ready after %d attempts: %w", attempt, err))
		}
		r.log.Debug("archive not ready", "attempt", attempt)
		t := time.NewTimer(r.opts.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// addDownloaded stores d, or parks it when a dependency has not arrived
// yet.
func (e *Engine) addDownloaded(ctx context.Context, r *round, d *document.Document) error {
	if err := e.rewriteLocations(d, r.opts.Files); err != nil {
		return err
	}
	err := e.store.Add(ctx, d)
	switch {
	case ndierr.Is(err, ndierr.KindDependencyMissing):
		r.pending = append(r.pending, d)
		return nil
	case ndierr.Is(err, ndierr.KindAlreadyExists):
		r.log.Debug("document already local", "doc_id", d.ID())
	case err != nil:
		return err
	}
	r.report.Downloaded = append(r.report.Downloaded, d.ID())
	e.logDoc(r, "downloaded", d.ID())
	if r.opts.Files == FilesLocal {
		return e.downloadFiles(ctx, r, d)
	}
	return nil
}

func (e *Engine) retryPending(ctx context.Context, r *round) error {
	for progress := true; progress && len(r.pending) > 0; {
		progress = false
		waiting := r.pending
		r.pending = nil
		for _, d := range waiting {
			before := len(r.pending)
			if err := e.addDownloaded(ctx, r, d); err != nil {
				return err
			}
			if len(r.pending) == before {
				progress = true
			}
		}
	}
	return nil
}

// rewriteLocations points the first location of every file at where the
// bytes will live after the download.
func (e *Engine) rewriteLocations(d *document.Document, mode FileMode) error {
	for i := range d.Files {
		f := &d.Files[i]
		if len(f.Locations) == 0 || f.Locations[0].UID == "" {
			continue
		}
		loc := &f.Locations[0]
		switch mode {
		case FilesCloudOnly:
			loc.Location = "ndic://" + e.remote.DatasetID() + "/" + loc.UID
			loc.LocationType = document.LocationNDICloud
		default:
			p, err := e.store.BinaryPath(d.ID(), f.Filename)
			if err != nil {
				return err
			}
			loc.Location = p
			loc.LocationType = document.LocationFile
		}
	}
	return nil
}

func (e *Engine) downloadFiles(ctx context.Context, r *round, d *document.Document) error {
	for _, f := range d.Files {
		if len(f.Locations) == 0 || f.Locations[0].UID == "" {
			continue
		}
		have, err := e.store.ExistsBinary(ctx, d.ID(), f.Filename)
		if err != nil {
			return err
		}
		if have {
			r.report.FilesSkipped++
			continue
		}
		if err := e.downloadFile(ctx, d.ID(), f.Filename, f.Locations[0].UID); err != nil {
			return err
		}
		r.report.FilesDownloaded++
	}
	return nil
}

func (e *Engine) downloadFile(ctx context.Context, id, filename, uid string) error {
	rc, err := e.remote.DownloadFile(ctx, uid)
	if err != nil {
		return err
	}
	defer rc.Close()
	w, err := e.store.OpenWriteStream(ctx, id, filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, rc); err != nil {
		w.Abort()
		return ndierr.Wrap(ndierr.KindTransportFailure, "cloudsync.download_file", err)
	}
	return w.Close()
}

func (e *Engine) uploadChunk(ctx context.Context, r *round, ids []string) error {
	var batch []*document.Document
	for _, id := range ids {
		d, err := e.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := e.remote.UploadDocument(ctx, d); err != nil {
			return err
		}
		r.report.Uploaded = append(r.report.Uploaded, id)
		e.logDoc(r, "uploaded", id)
		if r.opts.SerialFileUpload {
			if err := e.uploadFiles(ctx, r, d); err != nil {
				return err
			}
		} else {
			batch = append(batch, d)
		}
	}
	for _, d := range batch {
		if err := e.uploadFiles(ctx, r, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) uploadFiles(ctx context.Context, r *round, d *document.Document) error {
	for _, f := range d.Files {
		if len(f.Locations) == 0 || f.Locations[0].UID == "" {
			continue
		}
		loc := f.Locations[0]
		there, err := e.remote.HasFile(ctx, loc.UID)
		if err != nil {
			return err
		}
		if there {
			r.report.FilesSkipped++
			continue
		}
		src, err := e.openFile(ctx, d.ID(), f.Filename, loc)
		if err != nil {
			return err
		}
		if src == nil {
			r.log.Warn("file has no local bytes, not uploaded", "doc_id", d.ID(), "filename", f.Filename)
			continue
		}
		err = e.remote.UploadFile(ctx, loc.UID, src)
		src.Close()
		if err != nil {
			return err
		}
		r.report.FilesUploaded++
	}
	return nil
}

// openFile finds the bytes of a file: the store's attachment first, then a
// local file location. It returns nil when neither exists.
func (e *Engine) openFile(ctx context.Context, id, filename string, loc document.FileLocation) (io.ReadCloser, error) {
	ok, err := e.store.ExistsBinary(ctx, id, filename)
	if err == nil && ok {
		bs, err := e.store.OpenReadStream(ctx, id, filename)
		if err != nil {
			return nil, err
		}
		return bs, nil
	}
	if loc.LocationType != document.LocationFile || loc.Location == "" {
		return nil, nil
	}
	f, err := os.Open(loc.Location)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ndierr.IO("cloudsync.open_file", err)
	}
	return f, nil
}

func (e *Engine) deleteLocalChunk(ctx context.Context, r *round, ids []string) error {
	for _, id := range ids {
		err := e.store.Delete(ctx, id, true)
		if err != nil && !ndierr.Is(err, ndierr.KindNotFound) {
			return err
		}
		r.report.DeletedLocal = append(r.report.DeletedLocal, id)
		e.logDoc(r, "deleted locally", id)
	}
	return nil
}

func (e *Engine) deleteRemoteChunk(ctx context.Context, r *round, ids []string) error {
	if err := e.remote.DeleteDocuments(ctx, ids); err != nil {
		return err
	}
	r.report.DeletedRemote = append(r.report.DeletedRemote, ids...)
	for _, id := range ids {
		e.logDoc(r, "deleted remotely", id)
	}
	return nil
}

func (e *Engine) logDoc(r *round, msg, id string) {
	level := slog.LevelDebug
	if r.opts.Verbose {
		level = slog.LevelInfo
	}
	r.log.Log(context.Background(), level, msg, "doc_id", id)
}
