package httpsite

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ning0612/siteupdater/internal/domain"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/site/db.json.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 01 May 2024 12:00:00 GMT")
		io.WriteString(w, "manifest")
	})
	mux.HandleFunc("/site/flaky", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/site/private", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRead(t *testing.T) {
	srv := newServer(t)
	a, err := New(srv.URL+"/site/", srv.Client())
	require.NoError(t, err)
	defer a.Close()

	rc, err := a.Read(context.Background(), "db.json.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "manifest", string(data))

	info, err := a.Stat(context.Background(), "db.json.gz")
	require.NoError(t, err)
	assert.Equal(t, 2024, info.ModTime.Year())
}

func TestStatusMapping(t *testing.T) {
	srv := newServer(t)
	a, err := New(srv.URL+"/site", srv.Client())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Read(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	_, err = a.Read(ctx, "flaky")
	assert.True(t, errors.Is(err, domain.ErrNetworkError), "got %v", err)

	_, err = a.Read(ctx, "private")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied), "got %v", err)

	_, err = a.Read(ctx, "../escape")
	assert.True(t, errors.Is(err, domain.ErrPermissionDenied), "got %v", err)
}

func TestReadOnly(t *testing.T) {
	a, err := New("https://example.invalid/site", nil)
	require.NoError(t, err)

	err = a.Write(context.Background(), "db.json.gz", strings.NewReader("x"))
	assert.True(t, errors.Is(err, domain.ErrReadOnly))
	assert.True(t, errors.Is(a.Delete(context.Background(), "db.json.gz"), domain.ErrReadOnly))
}

func TestUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	a, err := New(base, nil)
	require.NoError(t, err)
	_, err = a.Read(context.Background(), "db.json.gz")
	assert.True(t, errors.Is(err, domain.ErrNetworkError) || errors.Is(err, domain.ErrTimeout), "got %v", err)
}

func TestNew_BadScheme(t *testing.T) {
	_, err := New("ftp://example.org/site", nil)
	assert.True(t, errors.Is(err, domain.ErrConfigInvalid))
}
