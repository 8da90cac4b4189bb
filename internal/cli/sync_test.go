package cli

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndicore/internal/cloud"
	"github.com/roach88/ndicore/internal/cloudsync"
)

func setCloudEnv(t *testing.T) {
	t.Helper()
	tok, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)
	t.Setenv(cloud.EnvToken, tok)
	t.Setenv(cloud.EnvUsername, "")
	t.Setenv(cloud.EnvPassword, "")
	t.Setenv(cloud.EnvOrganizationID, "org-1")
	t.Setenv(cloud.EnvAPIEnvironment, "")
}

func TestSync_DryRun(t *testing.T) {
	setCloudEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/datasets/ds1/documents" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"documents":[{"ndiId":"`+testID(7)+`"},{"ndiId":"`+testID(8)+`"}]}`)
	}))
	defer srv.Close()

	dir := t.TempDir()
	out, err := execute(t, "--dir", dir, "--format", "json",
		"sync", "--dataset", "ds1", "--api-url", srv.URL, "--mode", "download-new", "--dry-run")
	require.NoError(t, err)

	resp := decode[cloudsync.Report](t, out)
	assert.True(t, resp.Data.Success)
	assert.True(t, resp.Data.DryRun)
	assert.Equal(t, cloudsync.DownloadNew, resp.Data.Mode)
	assert.Equal(t, []string{testID(7), testID(8)}, resp.Data.Delta.ToDownload)
	assert.False(t, resp.Data.IndexWritten)
	assert.NotEmpty(t, resp.Data.RunID)

	out, err = execute(t, "--dir", dir, "sync", "--dataset", "ds1", "--api-url", srv.URL, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ sync two_way_sync")
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "download=2 upload=0")
}

func TestSync_Errors(t *testing.T) {
	setCloudEnv(t)

	_, err := execute(t, "sync", "--dataset", "ds1", "--mode", "sideways")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(t, "sync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dataset")

	t.Setenv(cloud.EnvToken, "")
	_, err = execute(t, "sync", "--dataset", "ds1")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	setCloudEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	out, err := execute(t, "--dir", t.TempDir(), "sync", "--dataset", "ds1", "--api-url", srv.URL)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ sync two_way_sync")
	assert.Contains(t, out, "error: ")
}
