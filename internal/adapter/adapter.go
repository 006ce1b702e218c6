package adapter

import (
	"context"
	"io"

	"github.com/Ning0612/siteupdater/internal/domain"
)

// Adapter defines the interface for update site storage.
// Keys are slash-separated and relative to the site root; implementations
// validate them and return domain-level errors.
type Adapter interface {
	// Read opens an object for reading
	// Caller is responsible for closing the reader
	// Returns domain.ErrNotFound if the object doesn't exist
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	// Write creates or replaces an object
	// Readers observe either the previous content or the new one, never a mix
	// Returns domain.ErrReadOnly if the backend does not accept writes
	Write(ctx context.Context, key string, r io.Reader) error

	// Stat returns metadata for a single object
	// Returns domain.ErrNotFound if the object doesn't exist
	Stat(ctx context.Context, key string) (domain.FileInfo, error)

	// Delete removes an object
	// Returns domain.ErrNotFound if the object doesn't exist
	Delete(ctx context.Context, key string) error

	// Close releases any resources held by the adapter
	Close() error
}
