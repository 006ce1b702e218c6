package domain

import (
	"errors"
	"fmt"
)

// Adapter errors - 儲存適配器層錯誤
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrPermissionDenied indicates insufficient permissions
	ErrPermissionDenied = errors.New("permission denied")

	// ErrReadOnly indicates the storage backend does not accept writes
	ErrReadOnly = errors.New("storage is read-only")

	// ErrVersionConflict indicates the remote manifest changed since it was last fetched
	ErrVersionConflict = errors.New("version conflict")

	// ErrNetworkError indicates a network-related failure
	ErrNetworkError = errors.New("network error")

	// ErrTimeout indicates operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Update errors - 更新邏輯層錯誤
var (
	// ErrSyncConflict indicates local and remote both diverged from the installed baseline
	ErrSyncConflict = errors.New("sync conflict")

	// ErrUnknownSite indicates a command referenced a site that is not registered
	ErrUnknownSite = errors.New("unknown update site")

	// ErrUnknownPath indicates a command referenced a path that is not managed
	ErrUnknownPath = errors.New("unknown path")

	// ErrManifestCorrupt indicates a manifest could not be parsed
	ErrManifestCorrupt = errors.New("manifest corrupt")

	// ErrDefaultSite indicates an operation that is not allowed on the default site
	ErrDefaultSite = errors.New("operation not allowed on the default update site")

	// ErrSiteExists indicates a site with the same name is already registered
	ErrSiteExists = errors.New("update site already exists")

	// ErrOffline indicates a command needs a site while running offline
	ErrOffline = errors.New("remote access disabled in offline mode")
)

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")
)

// NetworkError is returned once a transport operation exhausted its retries
type NetworkError struct {
	Op       string
	Site     string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s on site %s failed after %d attempt(s): %v", e.Op, e.Site, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes every NetworkError match ErrNetworkError
func (e *NetworkError) Is(target error) bool { return target == ErrNetworkError }

// ConflictError marks a file whose local content and remote record both moved
// away from the checksum recorded at install time. It is reported, never resolved.
type ConflictError struct {
	Path string
	Site string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: local and remote (%s) both changed since install", e.Path, e.Site)
}

func (e *ConflictError) Is(target error) bool { return target == ErrSyncConflict }

// UnknownSiteError names a site absent from the collection
type UnknownSiteError struct {
	Name string
}

func (e *UnknownSiteError) Error() string {
	return fmt.Sprintf("unknown update site: %s", e.Name)
}

func (e *UnknownSiteError) Is(target error) bool { return target == ErrUnknownSite }

// UnknownPathError names a path absent from the collection and the local tree
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("unknown path: %s", e.Path)
}

func (e *UnknownPathError) Is(target error) bool { return target == ErrUnknownPath }

// ManifestCorruptionError is fatal for one site only
type ManifestCorruptionError struct {
	Site string
	Err  error
}

func (e *ManifestCorruptionError) Error() string {
	return fmt.Sprintf("manifest of site %s is corrupt: %v", e.Site, e.Err)
}

func (e *ManifestCorruptionError) Unwrap() error { return e.Err }

func (e *ManifestCorruptionError) Is(target error) bool { return target == ErrManifestCorrupt }
