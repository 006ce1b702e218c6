package gdrive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Ning0612/siteupdater/internal/domain"
)

const (
	// MimeTypeFolder is the MIME type for Google Drive folders
	MimeTypeFolder = "application/vnd.google-apps.folder"

	// Scheme is the URL scheme of Drive hosted update sites
	Scheme = "gdrive"
)

// Options configures a Drive backed site
type Options struct {
	ClientID     string
	ClientSecret string
	TokenPath    string
}

// Adapter stores one update site inside a Drive folder.
// Replacing an object uploads a new revision of the same file, so readers
// see either the old or the new content.
type Adapter struct {
	service *drive.Service
	root    string   // Root folder path in Drive (e.g., "/sites/default")
	cache   *idCache // path -> ID
}

// idCache caches ID lookups with thread-safe access
type idCache struct {
	mu    sync.RWMutex
	paths map[string]string
}

func newIDCache() *idCache {
	return &idCache{
		paths: make(map[string]string),
	}
}

func (c *idCache) get(path string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.paths[path]
	return id, ok
}

func (c *idCache) set(path, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths[path] = id
}

func (c *idCache) delete(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.paths, path)
}

// New opens the site folder named by a gdrive:// URL using the stored token
func New(ctx context.Context, rawURL string, opts Options) (*Adapter, error) {
	root, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	auth := NewAuthenticator(opts.ClientID, opts.ClientSecret, opts.TokenPath)
	ts, err := auth.TokenSource(ctx)
	if err != nil {
		return nil, err
	}
	return NewWithTokenSource(ctx, ts, root)
}

// NewWithTokenSource creates an adapter authorized by ts
func NewWithTokenSource(ctx context.Context, ts oauth2.TokenSource, root string) (*Adapter, error) {
	client := oauth2.NewClient(ctx, ts)

	service, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	a := &Adapter{
		service: service,
		root:    normalizeRoot(root),
		cache:   newIDCache(),
	}

	rootID, err := a.getOrCreateFolderID(ctx, a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve site folder: %w", err)
	}
	a.cache.set(a.root, rootID)

	return a, nil
}

// ParseURL returns the Drive folder path of a gdrive://folder/path URL
func ParseURL(rawURL string) (string, error) {
	rest, ok := strings.CutPrefix(rawURL, Scheme+"://")
	if !ok {
		return "", fmt.Errorf("%w: not a %s URL: %s", domain.ErrConfigInvalid, Scheme, rawURL)
	}
	root := normalizeRoot(rest)
	if root == "" {
		return "", fmt.Errorf("%w: %s URL needs a folder: %s", domain.ErrConfigInvalid, Scheme, rawURL)
	}
	return root, nil
}

// normalizeRoot normalizes the root path
func normalizeRoot(root string) string {
	root = path.Clean("/" + strings.TrimSpace(root))
	if root == "/" {
		return ""
	}
	return root
}

// Read downloads an object
func (a *Adapter) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := a.joinPath(key)
	if err != nil {
		return nil, err
	}
	fileID, err := a.getFileID(ctx, fullPath)
	if err != nil {
		return nil, err
	}

	resp, err := a.service.Files.Get(fileID).Context(ctx).Download()
	if err != nil {
		return nil, a.mapError(err)
	}
	return resp.Body, nil
}

// Write creates an object or uploads a new revision of it
func (a *Adapter) Write(ctx context.Context, key string, r io.Reader) error {
	fullPath, err := a.joinPath(key)
	if err != nil {
		return err
	}
	fileName := path.Base(fullPath)

	existingID, err := a.getFileID(ctx, fullPath)
	if err == nil {
		_, err := a.service.Files.Update(existingID, &drive.File{Name: fileName}).
			Context(ctx).
			Media(r).
			Do()
		return a.mapError(err)
	}

	// Other errors (permission, network, etc.) should be propagated
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	parentID, err := a.getOrCreateFolderID(ctx, path.Dir(fullPath))
	if err != nil {
		return err
	}

	created, err := a.service.Files.Create(&drive.File{Name: fileName, Parents: []string{parentID}}).
		Fields("id").
		Context(ctx).
		Media(r).
		Do()
	if err != nil {
		return a.mapError(err)
	}
	a.cache.set(fullPath, created.Id)
	return nil
}

// Delete removes an object
func (a *Adapter) Delete(ctx context.Context, key string) error {
	fullPath, err := a.joinPath(key)
	if err != nil {
		return err
	}
	fileID, err := a.getFileID(ctx, fullPath)
	if err != nil {
		return err
	}

	if err := a.service.Files.Delete(fileID).Context(ctx).Do(); err != nil {
		return a.mapError(err)
	}
	a.cache.delete(fullPath)
	return nil
}

// Stat returns metadata for a single object; Checksum is Drive's md5
func (a *Adapter) Stat(ctx context.Context, key string) (domain.FileInfo, error) {
	fullPath, err := a.joinPath(key)
	if err != nil {
		return domain.FileInfo{}, err
	}
	fileID, err := a.getFileID(ctx, fullPath)
	if err != nil {
		return domain.FileInfo{}, err
	}

	file, err := a.service.Files.Get(fileID).
		Fields("id, name, mimeType, size, modifiedTime, md5Checksum").
		Context(ctx).Do()
	if err != nil {
		return domain.FileInfo{}, a.mapError(err)
	}
	if file.MimeType == MimeTypeFolder {
		return domain.FileInfo{}, domain.ErrNotFound
	}

	return fileInfoFromDrive(key, file), nil
}

// Close releases any resources
func (a *Adapter) Close() error {
	return nil
}

// Root returns the root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

// joinPath joins a key with root and validates against path traversal
func (a *Adapter) joinPath(key string) (string, error) {
	if key == "" || key == "." {
		return "", domain.ErrPermissionDenied
	}

	cleanPath := path.Clean(strings.ReplaceAll(key, "\\", "/"))

	if path.IsAbs(cleanPath) {
		return "", domain.ErrPermissionDenied
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, "../") {
		return "", domain.ErrPermissionDenied
	}

	return path.Join(a.root, cleanPath), nil
}

// escapeQueryString escapes special characters in Drive query strings
func escapeQueryString(s string) string {
	// Escape backslash first, then single quote
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

// getFileID returns the ID of a file or folder at the given path
func (a *Adapter) getFileID(ctx context.Context, fullPath string) (string, error) {
	if id, ok := a.cache.get(fullPath); ok {
		return id, nil
	}
	if fullPath == "" {
		return "root", nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}

		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := a.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escapeQueryString(part), currentID)
		fileList, err := a.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id, mimeType)").
			Context(ctx).Do()
		if err != nil {
			return "", a.mapError(err)
		}
		if len(fileList.Files) == 0 {
			return "", domain.ErrNotFound
		}

		currentID = fileList.Files[0].Id
		a.cache.set(partialPath, currentID)
	}

	return currentID, nil
}

// getOrCreateFolderID returns the ID of a folder, creating it if necessary
func (a *Adapter) getOrCreateFolderID(ctx context.Context, fullPath string) (string, error) {
	if fullPath == "" || fullPath == "/" {
		return "root", nil
	}
	if id, ok := a.cache.get(fullPath); ok {
		return id, nil
	}

	parts := strings.Split(strings.TrimPrefix(fullPath, "/"), "/")
	currentID := "root"

	for i, part := range parts {
		if part == "" {
			continue
		}

		partialPath := "/" + strings.Join(parts[:i+1], "/")
		if id, ok := a.cache.get(partialPath); ok {
			currentID = id
			continue
		}

		query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
			escapeQueryString(part), currentID, MimeTypeFolder)
		fileList, err := a.service.Files.List().
			Q(query).
			PageSize(1).
			Fields("files(id)").
			Context(ctx).Do()
		if err != nil {
			return "", a.mapError(err)
		}

		if len(fileList.Files) > 0 {
			currentID = fileList.Files[0].Id
		} else {
			folder := &drive.File{
				Name:     part,
				MimeType: MimeTypeFolder,
				Parents:  []string{currentID},
			}
			created, err := a.service.Files.Create(folder).
				Fields("id").
				Context(ctx).Do()
			if err != nil {
				return "", a.mapError(err)
			}
			currentID = created.Id
		}

		a.cache.set(partialPath, currentID)
	}

	return currentID, nil
}

// fileInfoFromDrive converts a Drive file to domain.FileInfo
func fileInfoFromDrive(key string, file *drive.File) domain.FileInfo {
	var modTime time.Time
	if file.ModifiedTime != "" {
		modTime, _ = time.Parse(time.RFC3339, file.ModifiedTime)
	}

	return domain.FileInfo{
		Path:     key,
		Size:     file.Size,
		ModTime:  modTime,
		Checksum: file.Md5Checksum,
	}
}

// mapError converts Google API errors to domain errors.
// Rate limits and server errors map to ErrNetworkError so they are retried.
func (a *Adapter) mapError(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 404:
			return domain.ErrNotFound
		case apiErr.Code == 403:
			return domain.ErrPermissionDenied
		case apiErr.Code == 409:
			return domain.ErrAlreadyExists
		case apiErr.Code == 412:
			return fmt.Errorf("%w: %v", domain.ErrVersionConflict, err)
		case apiErr.Code == 429:
			return fmt.Errorf("%w: rate limit exceeded: %w", domain.ErrNetworkError, err)
		case apiErr.Code >= 500:
			return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", domain.ErrNetworkError, err)
	}

	// Fallback to string matching for non-googleapi errors
	if strings.Contains(err.Error(), "notFound") {
		return domain.ErrNotFound
	}
	return err
}
