package gdrive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// tokenServer issues access-1, access-2, ... on every token request
func tokenServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var issued atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("access-%d", n),
			"refresh_token": "refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &issued
}

func newTestAuthenticator(t *testing.T, srv *httptest.Server) *Authenticator {
	t.Helper()
	a := NewAuthenticator("client-id", "client-secret", filepath.Join(t.TempDir(), "auth", DefaultTokenFile))
	a.Config().Endpoint = oauth2.Endpoint{
		AuthURL:  srv.URL + "/auth",
		TokenURL: srv.URL + "/token",
	}
	return a
}

func TestAuthenticate_SavesToken(t *testing.T) {
	srv, issued := tokenServer(t)
	a := newTestAuthenticator(t, srv)

	out := &bytes.Buffer{}
	a.WithIO(strings.NewReader("4/pasted-code\n"), out)

	token, err := a.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)
	assert.EqualValues(t, 1, issued.Load())
	assert.Contains(t, out.String(), srv.URL+"/auth")

	info, err := os.Stat(a.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	stored, err := a.loadToken()
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored.AccessToken)
	assert.Equal(t, "refresh-token", stored.RefreshToken)
}

func TestAuthenticate_NoCode(t *testing.T) {
	srv, _ := tokenServer(t)
	a := newTestAuthenticator(t, srv).WithIO(strings.NewReader(""), &bytes.Buffer{})

	_, err := a.Authenticate(context.Background())
	assert.Error(t, err)
	assert.NoFileExists(t, a.TokenPath())
}

func TestTokenSource_RefreshIsPersisted(t *testing.T) {
	srv, issued := tokenServer(t)
	a := newTestAuthenticator(t, srv)

	require.NoError(t, a.saveToken(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-token",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	ts, err := a.TokenSource(context.Background())
	require.NoError(t, err)

	token, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", token.AccessToken)

	stored, err := a.loadToken()
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored.AccessToken, "refreshed token should be written back")

	// A still valid token is served without another request
	_, err = ts.Token()
	require.NoError(t, err)
	assert.EqualValues(t, 1, issued.Load())
}

func TestTokenSource_NotAuthorized(t *testing.T) {
	srv, _ := tokenServer(t)

	t.Run("missing file", func(t *testing.T) {
		a := newTestAuthenticator(t, srv)
		_, err := a.TokenSource(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		a := newTestAuthenticator(t, srv)
		require.NoError(t, a.saveToken(&oauth2.Token{AccessToken: "old", Expiry: time.Now().Add(-time.Minute)}))
		_, err := a.TokenSource(context.Background())
		assert.ErrorIs(t, err, ErrNotAuthorized)
	})

	t.Run("corrupt file", func(t *testing.T) {
		a := newTestAuthenticator(t, srv)
		require.NoError(t, os.MkdirAll(filepath.Dir(a.TokenPath()), 0700))
		require.NoError(t, os.WriteFile(a.TokenPath(), []byte("{"), 0600))
		_, err := a.TokenSource(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotAuthorized)
	})
}

func TestNewAuthenticator_DefaultTokenPath(t *testing.T) {
	a := NewAuthenticator("id", "secret", "")
	assert.Equal(t, DefaultTokenFile, filepath.Base(a.TokenPath()))
}
