package domain

import "strings"

// DefaultSiteName is the reserved name of the default update site
const DefaultSiteName = "default"

// UpdateSite is one remote repository of managed files
type UpdateSite struct {
	// Name is the unique identifier
	Name string `mapstructure:"name"`

	// URL locates the site storage (file://, gdrive://, http(s)://)
	URL string `mapstructure:"url"`

	// Rank orders sites for tie-breaks; the default site is 0, later sites rank higher
	Rank int `mapstructure:"-"`

	// ManifestVersion is the remote manifest version last synchronized
	ManifestVersion int64 `mapstructure:"-"`
}

// IsDefault reports whether this is the default site
func (s UpdateSite) IsDefault() bool {
	return s.Name == DefaultSiteName
}

// Validate checks if the site is properly configured
func (s UpdateSite) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return ErrConfigInvalid
	}
	if strings.ContainsAny(s.Name, "/\\ ") {
		return ErrConfigInvalid
	}
	if strings.TrimSpace(s.URL) == "" {
		return ErrConfigInvalid
	}
	return nil
}

// TieBreak selects between non-default sites that declare the same path
type TieBreak string

const (
	// TieBreakHighestVersion picks the highest record version, ties by rank
	TieBreakHighestVersion TieBreak = "highest-version"

	// TieBreakSitePriority picks the highest ranked site
	TieBreakSitePriority TieBreak = "site-priority"

	// TieBreakNewestTimestamp picks the newest record timestamp, ties by rank
	TieBreakNewestTimestamp TieBreak = "newest-timestamp"
)

// IsValid checks if the tie-break policy is a known value
func (t TieBreak) IsValid() bool {
	switch t {
	case TieBreakHighestVersion, TieBreakSitePriority, TieBreakNewestTimestamp:
		return true
	}
	return false
}
