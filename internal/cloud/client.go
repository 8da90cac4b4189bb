package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/ndicore/internal/cloudsync"
	"github.com/roach88/ndicore/internal/document"
	"github.com/roach88/ndicore/internal/ndierr"
)

// DefaultTimeout bounds each HTTP call.
const DefaultTimeout = 20 * time.Second

var _ cloudsync.Remote = (*Client)(nil)

// Client is a REST client for one remote dataset.
type Client struct {
	session   *Session
	datasetID string
	http      *http.Client
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for datasetID authenticated by sess.
func NewClient(sess *Session, datasetID string, opts ...ClientOption) *Client {
	c := &Client{
		session:   sess,
		datasetID: datasetID,
		http:      http.DefaultClient,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) DatasetID() string { return c.datasetID }

// Login exchanges the session's username and password for a token.
func (c *Client) Login(ctx context.Context) error {
	const op = "cloud.login"
	if !c.session.CanLogin() {
		return ndierr.New(ndierr.KindAuthFailure, op, "no username and password to log in with")
	}
	body := map[string]string{"email": c.session.Username, "password": c.session.Password}
	var out struct {
		Token string `json:"token"`
	}
	if _, err := c.send(ctx, http.MethodPost, "/auth/login", body, &out, false); err != nil {
		return err
	}
	if out.Token == "" {
		return ndierr.New(ndierr.KindAuthFailure, op, "login returned no token")
	}
	c.logger.Debug("cloud login", "environment", c.session.Environment)
	return c.session.SetToken(out.Token)
}

// call sends an authenticated request. An expired token is refreshed
// first; a 401 triggers one re-login and one retry.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	if c.session.Expired(c.now()) && c.session.CanLogin() {
		if err := c.Login(ctx); err != nil {
			return err
		}
	}
	status, err := c.send(ctx, method, path, in, out, true)
	if status != http.StatusUnauthorized || !c.session.CanLogin() {
		return err
	}
	c.logger.Debug("cloud token rejected, logging in again", "path", path)
	if err := c.Login(ctx); err != nil {
		return err
	}
	_, err = c.send(ctx, method, path, in, out, true)
	return err
}

// send performs one request and returns the HTTP status, or 0 when no
// response arrived.
func (c *Client) send(ctx context.Context, method, path string, in, out any, auth bool) (int, error) {
	op := "cloud." + strings.ToLower(method) + " " + path
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.session.BaseURL+path, body)
	if err != nil {
		return 0, ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.session.Token())
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, ndierr.Transport(op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, ndierr.Transport(op, err)
	}
	if err := statusError(op, resp.StatusCode, data); err != nil {
		return resp.StatusCode, err
	}
	if out == nil || len(data) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, ndierr.Wrap(ndierr.KindTransportFailure, op, fmt.Errorf("decode response: %w", err))
	}
	return resp.StatusCode, nil
}

// statusError maps an HTTP status to an error kind. The response body is
// the message.
func statusError(op string, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	msg = fmt.Sprintf("%d %s", status, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ndierr.New(ndierr.KindAuthFailure, op, msg)
	case status == http.StatusNotFound:
		return ndierr.New(ndierr.KindNotFound, op, msg)
	case status == http.StatusConflict:
		return ndierr.New(ndierr.KindConflict, op, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return ndierr.Transport(op, errors.New(msg))
	default:
		return ndierr.New(ndierr.KindInvalidArgument, op, msg)
	}
}

func (c *Client) datasetPath(parts ...string) string {
	p := "/datasets/" + url.PathEscape(c.datasetID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// ListDocumentIDs returns the NDI ids of the dataset's documents.
func (c *Client) ListDocumentIDs(ctx context.Context) ([]string, error) {
	var out struct {
		Documents []struct {
			NDIID string `json:"ndiId"`
		} `json:"documents"`
	}
	if err := c.call(ctx, http.MethodGet, c.datasetPath("documents"), nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out.Documents))
	for _, d := range out.Documents {
		ids = append(ids, d.NDIID)
	}
	return ids, nil
}

func (c *Client) BulkDownloadURL(ctx context.Context, ids []string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	in := map[string][]string{"documentIds": ids}
	if err := c.call(ctx, http.MethodPost, c.datasetPath("documents", "bulk-download"), in, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", ndierr.New(ndierr.KindTransportFailure, "cloud.bulk_download_url", "no url in response")
	}
	return out.URL, nil
}

// FetchArchive downloads a presigned archive. Presigned urls carry their
// own credentials, so no bearer token is sent. A 403 or 404 means the
// archive is still being built and is reported as a transport failure.
func (c *Client) FetchArchive(ctx context.Context, archiveURL string) ([]byte, error) {
	const op = "cloud.fetch_archive"
	body, err := c.getRaw(ctx, op, archiveURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, ndierr.Transport(op, err)
	}
	return data, nil
}

func (c *Client) getRaw(ctx context.Context, op, rawURL string) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, ndierr.Transport(op, err)
	}
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		cancel()
		return nil, ndierr.Transport(op, fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, statusError(op, resp.StatusCode, data)
	}
	return &cancelBody{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *Client) UploadDocument(ctx context.Context, d *document.Document) error {
	return c.call(ctx, http.MethodPost, c.datasetPath("documents"), d, nil)
}

func (c *Client) DeleteDocuments(ctx context.Context, ids []string) error {
	in := map[string][]string{"documentIds": ids}
	return c.call(ctx, http.MethodPost, c.datasetPath("documents", "bulk-delete"), in, nil)
}

// HasFile asks whether the dataset already holds the file with uid.
func (c *Client) HasFile(ctx context.Context, uid string) (bool, error) {
	err := c.call(ctx, http.MethodGet, c.datasetPath("files", uid, "detail"), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case ndierr.Is(err, ndierr.KindNotFound):
		return false, nil
	default:
		return false, err
	}
}

// UploadFile asks for a presigned upload url and PUTs the bytes to it.
func (c *Client) UploadFile(ctx context.Context, uid string, r io.Reader) error {
	const op = "cloud.upload_file"
	var out struct {
		URL string `json:"url"`
	}
	path := "/organizations/" + url.PathEscape(c.session.OrganizationID) + c.datasetPath("files", uid, "upload-url")
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, out.URL, r)
	if err != nil {
		return ndierr.Wrap(ndierr.KindInvalidArgument, op, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return ndierr.Transport(op, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return statusError(op, resp.StatusCode, data)
}

// DownloadFile resolves the file's download url and streams it.
func (c *Client) DownloadFile(ctx context.Context, uid string) (io.ReadCloser, error) {
	var out struct {
		DownloadURL string `json:"downloadUrl"`
	}
	if err := c.call(ctx, http.MethodGet, c.datasetPath("files", uid), nil, &out); err != nil {
		return nil, err
	}
	return c.getRaw(ctx, "cloud.download_file", out.DownloadURL)
}
