package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/domain"
)

// tempSuffix marks partially written objects
const tempSuffix = ".siteupdater.tmp"

// Adapter implements the adapter.Adapter interface on an afero filesystem
type Adapter struct {
	fs   afero.Fs
	root string
}

// New creates a local adapter rooted at root, creating the directory if needed
func New(fs afero.Fs, root string) (*Adapter, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	absRoot := filepath.Clean(root)
	if _, ok := fs.(*afero.OsFs); ok {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		absRoot = abs
	}

	info, err := fs.Stat(absRoot)
	switch {
	case err == nil && !info.IsDir():
		return nil, domain.ErrPermissionDenied
	case err != nil && os.IsNotExist(err):
		if err := fs.MkdirAll(absRoot, 0755); err != nil {
			return nil, mapError(err)
		}
	case err != nil:
		return nil, mapError(err)
	}

	return &Adapter{fs: fs, root: absRoot}, nil
}

// resolvePath safely resolves a relative key to a path within root
// Returns error if the key attempts to escape root directory
func (a *Adapter) resolvePath(key string) (string, error) {
	if key == "" || key == "." {
		return "", domain.ErrPermissionDenied
	}

	rel := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(rel) || strings.HasPrefix(key, "/") {
		return "", domain.ErrPermissionDenied
	}

	fullPath := filepath.Join(a.root, rel)

	r, err := filepath.Rel(a.root, fullPath)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", domain.ErrPermissionDenied
	}

	return fullPath, nil
}

// Read opens a file for reading
func (a *Adapter) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(key)
	if err != nil {
		return nil, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	if info.IsDir() {
		return nil, domain.ErrNotFound
	}

	file, err := a.fs.Open(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	return file, nil
}

// Write replaces the file through a temp file and rename
func (a *Adapter) Write(ctx context.Context, key string, r io.Reader) error {
	fullPath, err := a.resolvePath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(fullPath)
	if err := a.fs.MkdirAll(dir, 0755); err != nil {
		return mapError(err)
	}

	tempPath := fullPath + tempSuffix
	file, err := a.fs.Create(tempPath)
	if err != nil {
		return mapError(err)
	}

	_, copyErr := io.Copy(file, &ctxReader{ctx: ctx, r: r})
	closeErr := file.Close()

	if copyErr != nil {
		a.fs.Remove(tempPath)
		return copyErr
	}
	if closeErr != nil {
		a.fs.Remove(tempPath)
		return closeErr
	}

	if err := a.fs.Rename(tempPath, fullPath); err != nil {
		a.fs.Remove(tempPath)
		return mapError(err)
	}
	return nil
}

// Delete removes a file
func (a *Adapter) Delete(ctx context.Context, key string) error {
	fullPath, err := a.resolvePath(key)
	if err != nil {
		return err
	}
	return mapError(a.fs.Remove(fullPath))
}

// Stat returns metadata for a single file
func (a *Adapter) Stat(ctx context.Context, key string) (domain.FileInfo, error) {
	fullPath, err := a.resolvePath(key)
	if err != nil {
		return domain.FileInfo{}, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return domain.FileInfo{}, mapError(err)
	}
	if info.IsDir() {
		return domain.FileInfo{}, domain.ErrNotFound
	}

	return domain.FileInfo{
		Path:    filepath.ToSlash(key),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

// Root returns the root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// mapError converts OS errors to domain errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, os.ErrPermission):
		return domain.ErrPermissionDenied
	case errors.Is(err, os.ErrExist):
		return domain.ErrAlreadyExists
	}
	return err
}
