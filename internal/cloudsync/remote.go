package cloudsync

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
)

// Remote is the cloud side of a sync. Calls that fail with a transport or
// auth error may be retried; anything else is final.
type Remote interface {
	// DatasetID names the remote dataset the session mirrors.
	DatasetID() string
	// ListDocumentIDs returns the remote ids in remote order.
	ListDocumentIDs(ctx context.Context) ([]string, error)
	// BulkDownloadURL asks for a presigned archive holding ids.
	BulkDownloadURL(ctx context.Context, ids []string) (string, error)
	// FetchArchive downloads a presigned archive. A transport error means
	// the archive is not ready yet.
	FetchArchive(ctx context.Context, url string) ([]byte, error)
	UploadDocument(ctx context.Context, doc *document.Document) error
	DeleteDocuments(ctx context.Context, ids []string) error

	HasFile(ctx context.Context, uid string) (bool, error)
	UploadFile(ctx context.Context, uid string, r io.Reader) error
	DownloadFile(ctx context.Context, uid string) (io.ReadCloser, error)
}

// ExtractArchive returns the JSON documents in a zip archive, in archive
// order. Other entries are ignored.
func ExtractArchive(data []byte) ([]*document.Document, error) {
	const op = "cloudsync.extract_archive"
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, ndierr.Invalid(op, "bad archive: %v", err)
	}
	var docs []*document.Document
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".json") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, ndierr.Invalid(op, "%s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, ndierr.Invalid(op, "%s: %v", f.Name, err)
		}
		d, err := document.Parse(body)
		if err != nil {
			return nil, ndierr.Invalid(op, "%s: %v", f.Name, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// BuildArchive writes docs as <id>.json entries of a zip archive.
func BuildArchive(docs []*document.Document) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, d := range docs {
		body, err := d.MarshalJSON()
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(d.ID() + ".json")
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
