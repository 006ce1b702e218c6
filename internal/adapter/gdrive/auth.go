package gdrive

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// DefaultTokenFile is the token file name inside the user config directory
const DefaultTokenFile = "gdrive-token.json"

// ErrNotAuthorized is returned when no usable token is stored
var ErrNotAuthorized = errors.New("google drive is not authorized, run 'siteupdater auth gdrive'")

// Authenticator runs the OAuth flow for Drive hosted sites and keeps the
// token file current
type Authenticator struct {
	config    *oauth2.Config
	tokenPath string
	in        io.Reader
	out       io.Writer
}

// NewAuthenticator creates an authenticator; an empty tokenPath means
// <user config dir>/siteupdater/gdrive-token.json
func NewAuthenticator(clientID, clientSecret, tokenPath string) *Authenticator {
	if tokenPath == "" {
		tokenPath = DefaultTokenFile
		if configDir, err := os.UserConfigDir(); err == nil {
			tokenPath = filepath.Join(configDir, "siteupdater", DefaultTokenFile)
		}
	}

	return &Authenticator{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			// 只需存取本程式建立的檔案
			Scopes:   []string{drive.DriveFileScope},
			Endpoint: google.Endpoint,
		},
		tokenPath: tokenPath,
		in:        os.Stdin,
		out:       os.Stdout,
	}
}

// WithIO sets where the interactive flow prompts and reads the code
func (a *Authenticator) WithIO(in io.Reader, out io.Writer) *Authenticator {
	a.in = in
	a.out = out
	return a
}

// TokenSource returns a source backed by the stored token. Tokens refreshed
// through it are written back to the token file.
func (a *Authenticator) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := a.loadToken()
	if err != nil {
		return nil, err
	}
	if !token.Valid() && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token expired", ErrNotAuthorized)
	}

	return &persistingSource{
		auth: a,
		base: a.config.TokenSource(ctx, token),
		last: token.AccessToken,
	}, nil
}

// Authenticate runs the authorization code flow: it prints the consent URL,
// reads the pasted code and stores the resulting token
func (a *Authenticator) Authenticate(ctx context.Context) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	authURL := a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(a.out, "\nTo let siteupdater publish update sites on Google Drive:\n\n")
	fmt.Fprintf(a.out, "1. Visit this URL:\n   %s\n\n", authURL)
	fmt.Fprintf(a.out, "2. Sign in and grant access\n\n")
	fmt.Fprintf(a.out, "3. Paste the authorization code below\n\n")
	fmt.Fprintf(a.out, "Authorization code: ")

	var code string
	if _, err := fmt.Fscan(a.in, &code); err != nil {
		return nil, fmt.Errorf("failed to read authorization code: %w", err)
	}

	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for token: %w", err)
	}
	if err := a.saveToken(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}

	fmt.Fprintln(a.out, "\nAuthorized. Token saved.")
	return token, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (a *Authenticator) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(a.tokenPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, err
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token file %s: %w", a.tokenPath, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token file %s is empty", ErrNotAuthorized, a.tokenPath)
	}
	return &token, nil
}

// saveToken writes the token with owner-only permissions through temp file + rename
func (a *Authenticator) saveToken(token *oauth2.Token) error {
	dir := filepath.Dir(a.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(a.tokenPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), a.tokenPath)
}

// TokenPath returns the path where the token is stored
func (a *Authenticator) TokenPath() string {
	return a.tokenPath
}

// Config returns the OAuth2 config
func (a *Authenticator) Config() *oauth2.Config {
	return a.config
}

// persistingSource saves every newly issued access token
type persistingSource struct {
	mu   sync.Mutex
	auth *Authenticator
	base oauth2.TokenSource
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if token.AccessToken != s.last {
		if err := s.auth.saveToken(token); err != nil {
			return nil, fmt.Errorf("failed to save refreshed token: %w", err)
		}
		s.last = token.AccessToken
	}
	return token, nil
}
