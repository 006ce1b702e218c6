package domain

import "time"

// FileInfo represents metadata about an object in a storage backend
type FileInfo struct {
	// Path is the relative path from the backend root
	Path string

	// Size in bytes
	Size int64

	// ModTime is the last modification time
	ModTime time.Time

	// Checksum is the content hash as reported by the backend (may be empty)
	Checksum string
}

// LocalState is what the disk scan observed for a managed path
type LocalState struct {
	Checksum  string
	Timestamp time.Time
	Size      int64
}

// SiteRecord is one site's declaration of a path
type SiteRecord struct {
	Checksum  string
	Version   int64
	Timestamp time.Time

	// Obsolete marks a tombstone: the site asks installations to remove the path
	Obsolete bool
}

// IsLive reports whether the record declares installable content
func (r SiteRecord) IsLive() bool {
	return !r.Obsolete
}

// ManagedFile represents one file under management
type ManagedFile struct {
	// Path is the relative slash-separated path, unique within a collection
	Path string

	// Local is nil when the file is not present on disk
	Local *LocalState

	// LocalVersion is the version recorded at the last install, update or upload
	LocalVersion int64

	// InstalledChecksum is the checksum of the content at the last install,
	// update or upload. Empty if the file was never installed by the updater.
	InstalledChecksum string

	// InstalledFrom names the site the current local content came from
	InstalledFrom string

	// Records maps site name to that site's declaration of this path
	Records map[string]SiteRecord
}

// NewManagedFile creates an empty managed file for path
func NewManagedFile(path string) *ManagedFile {
	return &ManagedFile{
		Path:    path,
		Records: make(map[string]SiteRecord),
	}
}

// IsLocal reports whether the file is present on disk
func (f *ManagedFile) IsLocal() bool {
	return f.Local != nil
}

// HasLiveRecord reports whether any site declares installable content
func (f *ManagedFile) HasLiveRecord() bool {
	for _, r := range f.Records {
		if r.IsLive() {
			return true
		}
	}
	return false
}

// IsEmpty reports whether the file has neither local presence nor records
func (f *ManagedFile) IsEmpty() bool {
	return f.Local == nil && len(f.Records) == 0
}

// MaxVersion returns the highest version known for this path from any source
func (f *ManagedFile) MaxVersion() int64 {
	v := f.LocalVersion
	for _, r := range f.Records {
		if r.Version > v {
			v = r.Version
		}
	}
	return v
}

// Clone returns a deep copy
func (f *ManagedFile) Clone() *ManagedFile {
	c := *f
	if f.Local != nil {
		local := *f.Local
		c.Local = &local
	}
	c.Records = make(map[string]SiteRecord, len(f.Records))
	for site, r := range f.Records {
		c.Records[site] = r
	}
	return &c
}
