package shadow

import "github.com/Ning0612/siteupdater/internal/domain"

// Selector picks the site record that owns a path when several sites declare it
type Selector interface {
	// Select returns the owning site and its record; ok is false when no
	// site declares the path at all
	Select(file *domain.ManagedFile, ranks map[string]int, forced string) (site string, record domain.SiteRecord, ok bool)
}

// DefaultSelector applies the fixed precedence (force-shadow, installed-from,
// default site) and then the configured tie-break policy
type DefaultSelector struct {
	Policy domain.TieBreak
}

// NewDefaultSelector creates a selector using policy.
// An empty policy falls back to highest-version.
func NewDefaultSelector(policy domain.TieBreak) *DefaultSelector {
	if policy == "" {
		policy = domain.TieBreakHighestVersion
	}
	return &DefaultSelector{Policy: policy}
}

// Select implements the Selector interface
func (s *DefaultSelector) Select(file *domain.ManagedFile, ranks map[string]int, forced string) (string, domain.SiteRecord, bool) {
	if file == nil || len(file.Records) == 0 {
		return "", domain.SiteRecord{}, false
	}

	// A force-shadowing site owns every path it declares, tombstones included
	if forced != "" {
		if rec, ok := file.Records[forced]; ok {
			return forced, rec, true
		}
	}

	if file.InstalledFrom != "" {
		if rec, ok := file.Records[file.InstalledFrom]; ok && rec.IsLive() {
			return file.InstalledFrom, rec, true
		}
	}

	if rec, ok := file.Records[domain.DefaultSiteName]; ok && rec.IsLive() {
		return domain.DefaultSiteName, rec, true
	}

	best := ""
	var bestRec domain.SiteRecord
	for site, rec := range file.Records {
		if !rec.IsLive() {
			continue
		}
		if best == "" || s.better(site, rec, best, bestRec, ranks) {
			best, bestRec = site, rec
		}
	}
	if best != "" {
		return best, bestRec, true
	}

	// Only tombstones left: the highest ranked one speaks for the path
	for site, rec := range file.Records {
		if best == "" || byRank(site, best, ranks) {
			best, bestRec = site, rec
		}
	}
	return best, bestRec, true
}

// better reports whether candidate a beats b under the policy
func (s *DefaultSelector) better(a string, ra domain.SiteRecord, b string, rb domain.SiteRecord, ranks map[string]int) bool {
	switch s.Policy {
	case domain.TieBreakSitePriority:
		return byRank(a, b, ranks)
	case domain.TieBreakNewestTimestamp:
		if !ra.Timestamp.Equal(rb.Timestamp) {
			return ra.Timestamp.After(rb.Timestamp)
		}
		return byRank(a, b, ranks)
	default:
		if ra.Version != rb.Version {
			return ra.Version > rb.Version
		}
		return byRank(a, b, ranks)
	}
}

// byRank orders by rank descending, then by name for determinism
func byRank(a, b string, ranks map[string]int) bool {
	if ranks[a] != ranks[b] {
		return ranks[a] > ranks[b]
	}
	return a < b
}
