// Package transport moves manifests and file contents between the local
// installation and update sites.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/Ning0612/siteupdater/internal/adapter"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/logger"
	"github.com/Ning0612/siteupdater/internal/manifest"
	"github.com/Ning0612/siteupdater/internal/progress"
)

// filesDir holds versioned file contents below a site root
const filesDir = "files"

// Transport is the collaborator the engine uses for all remote I/O.
// Failures that survive the retry policy are *domain.NetworkError.
type Transport interface {
	// FetchManifest returns the raw manifest of site
	// Returns domain.ErrNotFound if the site has never been published
	FetchManifest(ctx context.Context, site domain.UpdateSite) ([]byte, error)

	// PushManifest replaces the manifest of site. It fails with
	// domain.ErrVersionConflict when the published manifest version is not
	// expectedVersion.
	PushManifest(ctx context.Context, site domain.UpdateSite, data []byte, expectedVersion int64) error

	// FetchFile downloads the content of path at version
	FetchFile(ctx context.Context, site domain.UpdateSite, path string, version int64) ([]byte, error)

	// PushFile uploads the content of path at version
	PushFile(ctx context.Context, site domain.UpdateSite, path string, version int64, data []byte) error

	// Close releases every opened site
	Close() error
}

// Options configures an AdapterTransport
type Options struct {
	Retry    RetryPolicy
	Clock    clockwork.Clock
	Reporter progress.Reporter
}

// AdapterTransport implements Transport on storage adapters, one per site.
// It is safe for concurrent use.
type AdapterTransport struct {
	factory  adapter.Factory
	policy   RetryPolicy
	clock    clockwork.Clock
	reporter progress.Reporter

	mu    sync.Mutex
	sites map[string]adapter.Adapter
}

// New creates a transport opening sites through factory
func New(factory adapter.Factory, opts Options) *AdapterTransport {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.NullReporter{}
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &AdapterTransport{
		factory:  factory,
		policy:   opts.Retry,
		clock:    opts.Clock,
		reporter: opts.Reporter,
		sites:    make(map[string]adapter.Adapter),
	}
}

// FileKey is the object key of path at version
func FileKey(p string, version int64) string {
	return path.Join(filesDir, p+"-"+strconv.FormatInt(version, 10))
}

func (t *AdapterTransport) open(ctx context.Context, site domain.UpdateSite) (adapter.Adapter, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if a, ok := t.sites[site.Name]; ok {
		return a, nil
	}
	a, err := t.factory.Open(ctx, site)
	if err != nil {
		return nil, fmt.Errorf("open site %s: %w", site.Name, err)
	}
	t.sites[site.Name] = a
	return a, nil
}

func (t *AdapterTransport) read(ctx context.Context, site domain.UpdateSite, key string) ([]byte, error) {
	a, err := t.open(ctx, site)
	if err != nil {
		return nil, err
	}
	rc, err := a.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrNetworkError, key, err)
	}
	return data, nil
}

// FetchManifest implements Transport
func (t *AdapterTransport) FetchManifest(ctx context.Context, site domain.UpdateSite) ([]byte, error) {
	var data []byte
	err := retry(ctx, t.clock, t.policy, "fetch manifest", site.Name, func(ctx context.Context) error {
		var err error
		data, err = t.read(ctx, site, manifest.FileName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PushManifest implements Transport
func (t *AdapterTransport) PushManifest(ctx context.Context, site domain.UpdateSite, data []byte, expectedVersion int64) error {
	current, err := t.publishedVersion(ctx, site)
	if err != nil {
		return err
	}
	if current >= 0 && current != expectedVersion {
		return fmt.Errorf("%w: site %s is at manifest version %d, expected %d",
			domain.ErrVersionConflict, site.Name, current, expectedVersion)
	}

	return retry(ctx, t.clock, t.policy, "push manifest", site.Name, func(ctx context.Context) error {
		a, err := t.open(ctx, site)
		if err != nil {
			return err
		}
		return a.Write(ctx, manifest.FileName, bytes.NewReader(data))
	})
}

// publishedVersion returns the manifest version currently on site,
// 0 if none and -1 if the published manifest is unreadable
func (t *AdapterTransport) publishedVersion(ctx context.Context, site domain.UpdateSite) (int64, error) {
	data, err := t.FetchManifest(ctx, site)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	m, err := manifest.Unmarshal(data, site.Name)
	if err != nil {
		// A corrupt manifest is replaced rather than blocking every upload
		logger.Get().Warn("Published manifest is corrupt, it will be replaced",
			"site", site.Name, "error", err)
		return -1, nil
	}
	return m.Version, nil
}

// FetchFile implements Transport
func (t *AdapterTransport) FetchFile(ctx context.Context, site domain.UpdateSite, p string, version int64) ([]byte, error) {
	key := FileKey(p, version)
	t.reporter.Start(p, 0)

	var data []byte
	err := retry(ctx, t.clock, t.policy, "fetch "+p, site.Name, func(ctx context.Context) error {
		a, err := t.open(ctx, site)
		if err != nil {
			return err
		}
		rc, err := a.Read(ctx, key)
		if err != nil {
			return err
		}
		defer rc.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, progress.NewProgressReader(rc, t.reporter)); err != nil {
			return fmt.Errorf("%w: read %s: %w", domain.ErrNetworkError, key, err)
		}
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		t.reporter.Error(err)
		return nil, err
	}
	t.reporter.Complete()
	return data, nil
}

// PushFile implements Transport
func (t *AdapterTransport) PushFile(ctx context.Context, site domain.UpdateSite, p string, version int64, data []byte) error {
	key := FileKey(p, version)
	t.reporter.Start(p, int64(len(data)))

	err := retry(ctx, t.clock, t.policy, "push "+p, site.Name, func(ctx context.Context) error {
		a, err := t.open(ctx, site)
		if err != nil {
			return err
		}
		return a.Write(ctx, key, progress.NewProgressReader(bytes.NewReader(data), t.reporter))
	})
	if err != nil {
		t.reporter.Error(err)
		return err
	}
	t.reporter.Complete()
	return nil
}

// Close implements Transport
func (t *AdapterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var errs []error
	for name, a := range t.sites {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close site %s: %w", name, err))
		}
		delete(t.sites, name)
	}
	return errors.Join(errs...)
}
