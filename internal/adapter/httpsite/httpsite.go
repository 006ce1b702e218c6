// Package httpsite reads update sites published on a plain web server.
// Such sites are consumed only; uploads need a writable backend.
package httpsite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Ning0612/siteupdater/internal/domain"
)

// DefaultTimeout bounds a single request when no client is supplied
const DefaultTimeout = 60 * time.Second

// Adapter implements adapter.Adapter over HTTP GET/HEAD
type Adapter struct {
	base   *url.URL
	client *http.Client
}

// New creates an adapter for the site rooted at rawURL
func New(rawURL string, client *http.Client) (*Adapter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", domain.ErrConfigInvalid, u.Scheme)
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &Adapter{base: u, client: client}, nil
}

// objectURL maps a key below the site root
func (a *Adapter) objectURL(key string) (string, error) {
	clean := path.Clean(key)
	if key == "" || clean == "." || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", domain.ErrPermissionDenied
	}
	u := *a.base
	u.Path = a.base.Path + "/" + clean
	return u.String(), nil
}

func (a *Adapter) do(ctx context.Context, method, key string) (*http.Response, error) {
	target, err := a.objectURL(key)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	if err := mapStatus(resp.StatusCode); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

// Read fetches an object
func (a *Adapter) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	resp, err := a.do(ctx, http.MethodGet, key)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Stat issues a HEAD request
func (a *Adapter) Stat(ctx context.Context, key string) (domain.FileInfo, error) {
	resp, err := a.do(ctx, http.MethodHead, key)
	if err != nil {
		return domain.FileInfo{}, err
	}
	resp.Body.Close()

	info := domain.FileInfo{Path: key, Size: resp.ContentLength}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.ModTime = t
		}
	}
	return info, nil
}

// Write is not supported
func (a *Adapter) Write(ctx context.Context, key string, r io.Reader) error {
	return fmt.Errorf("%w: %s", domain.ErrReadOnly, a.base.String())
}

// Delete is not supported
func (a *Adapter) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("%w: %s", domain.ErrReadOnly, a.base.String())
}

// Close releases idle connections
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

func mapStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return domain.ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrPermissionDenied
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.ErrTimeout
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: status %d", domain.ErrNetworkError, code)
	default:
		return fmt.Errorf("unexpected status %d", code)
	}
}

func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
}
