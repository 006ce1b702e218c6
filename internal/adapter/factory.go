package adapter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/adapter/gdrive"
	"github.com/Ning0612/siteupdater/internal/adapter/httpsite"
	"github.com/Ning0612/siteupdater/internal/adapter/local"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// Compile-time interface checks
var (
	_ Adapter = (*local.Adapter)(nil)
	_ Adapter = (*gdrive.Adapter)(nil)
	_ Adapter = (*httpsite.Adapter)(nil)
)

// Factory opens the storage of an update site
type Factory interface {
	Open(ctx context.Context, site domain.UpdateSite) (Adapter, error)
}

// DefaultFactory picks a backend by URL scheme:
// file:// or a bare path, gdrive://, http:// and https://
type DefaultFactory struct {
	Fs         afero.Fs
	GDrive     gdrive.Options
	HTTPClient *http.Client
}

// NewDefaultFactory creates a factory using the OS filesystem for local sites
func NewDefaultFactory(gd gdrive.Options) *DefaultFactory {
	return &DefaultFactory{Fs: afero.NewOsFs(), GDrive: gd}
}

// Open implements Factory
func (f *DefaultFactory) Open(ctx context.Context, site domain.UpdateSite) (Adapter, error) {
	scheme, rest := splitScheme(site.URL)

	switch scheme {
	case "", "file":
		root, err := homedir.Expand(rest)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", site.Name, err)
		}
		fs := f.Fs
		if fs == nil {
			fs = afero.NewOsFs()
		}
		return local.New(fs, root)
	case gdrive.Scheme:
		return gdrive.New(ctx, site.URL, f.GDrive)
	case "http", "https":
		return httpsite.New(site.URL, f.HTTPClient)
	default:
		return nil, fmt.Errorf("%w: site %s has unsupported URL scheme %q", domain.ErrConfigInvalid, site.Name, scheme)
	}
}

func splitScheme(rawURL string) (scheme, rest string) {
	i := strings.Index(rawURL, "://")
	if i < 0 {
		return "", rawURL
	}
	return strings.ToLower(rawURL[:i]), rawURL[i+len("://"):]
}
