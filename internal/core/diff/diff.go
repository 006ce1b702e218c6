package diff

import "github.com/Ning0612/siteupdater/internal/domain"

// Change classifies local content against a remote record and the
// checksum recorded when the file was last installed
type Change int

const (
	// Identical indicates local content equals the remote record. Versions
	// are not compared: the same bytes reached through another site, or a
	// shadow that was removed, still count as installed.
	Identical Change = iota
	// LocalChanged indicates the user edited the file, the remote did not move
	LocalChanged
	// RemoteChanged indicates local is untouched and the remote is newer
	RemoteChanged
	// BothChanged indicates local was edited and the remote is newer too
	BothChanged
	// LocalAhead indicates local is untouched but the remote is not newer,
	// e.g. local content came from a site that is gone
	LocalAhead
)

// String returns a short name for the change
func (c Change) String() string {
	switch c {
	case Identical:
		return "identical"
	case LocalChanged:
		return "local-changed"
	case RemoteChanged:
		return "remote-changed"
	case BothChanged:
		return "both-changed"
	case LocalAhead:
		return "local-ahead"
	default:
		return "unknown"
	}
}

// Comparer performs the three-way comparison
type Comparer interface {
	// Compare classifies local against remote using the installed baseline
	Compare(local *domain.LocalState, localVersion int64, baseline string, remote domain.SiteRecord) Change
}

// DefaultComparer compares checksums, using versions to tell which side moved
type DefaultComparer struct{}

// NewDefaultComparer creates a new DefaultComparer
func NewDefaultComparer() *DefaultComparer {
	return &DefaultComparer{}
}

// Compare implements the Comparer interface.
// local must not be nil; callers handle absent files before comparing.
func (c *DefaultComparer) Compare(local *domain.LocalState, localVersion int64, baseline string, remote domain.SiteRecord) Change {
	if local.Checksum == remote.Checksum {
		return Identical
	}

	// No baseline: the file was never installed by the updater, so whatever
	// is on disk counts as a local edit.
	if baseline == "" {
		return LocalChanged
	}

	localChanged := local.Checksum != baseline
	remoteNewer := remote.Version > localVersion && remote.Checksum != baseline

	switch {
	case localChanged && remoteNewer:
		return BothChanged
	case localChanged:
		return LocalChanged
	case remoteNewer:
		return RemoteChanged
	default:
		return LocalAhead
	}
}
