package collection

import (
	"fmt"
	"sort"

	"github.com/Ning0612/siteupdater/internal/core/status"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// Collection owns the managed files and update sites of one installation.
// It is not safe for concurrent mutation.
type Collection struct {
	files    map[string]*domain.ManagedFile
	sites    map[string]*domain.UpdateSite
	shadows  map[string]string // path -> force-shadowing site
	resolver status.Resolver

	changes changeSet
}

// changeSet tracks what must be written on the next save
type changeSet struct {
	paths        map[string]bool
	sites        map[string]bool
	removedSites map[string]bool
}

func newChangeSet() changeSet {
	return changeSet{
		paths:        make(map[string]bool),
		sites:        make(map[string]bool),
		removedSites: make(map[string]bool),
	}
}

// Changes lists what was touched since the last ClearChanges
type Changes struct {
	Paths        []string
	Sites        []string
	RemovedSites []string
}

// IsEmpty reports whether nothing changed
func (c Changes) IsEmpty() bool {
	return len(c.Paths) == 0 && len(c.Sites) == 0 && len(c.RemovedSites) == 0
}

// New creates an empty collection resolving statuses with resolver
func New(resolver status.Resolver) *Collection {
	if resolver == nil {
		resolver = status.NewDefaultResolver("")
	}
	return &Collection{
		files:    make(map[string]*domain.ManagedFile),
		sites:    make(map[string]*domain.UpdateSite),
		shadows:  make(map[string]string),
		resolver: resolver,
		changes:  newChangeSet(),
	}
}

// Clone returns a deep copy sharing only the resolver.
// Commands mutate a clone and swap it in once every step succeeded.
func (c *Collection) Clone() *Collection {
	out := New(c.resolver)
	for p, f := range c.files {
		out.files[p] = f.Clone()
	}
	for n, s := range c.sites {
		site := *s
		out.sites[n] = &site
	}
	for p, s := range c.shadows {
		out.shadows[p] = s
	}
	for p := range c.changes.paths {
		out.changes.paths[p] = true
	}
	for s := range c.changes.sites {
		out.changes.sites[s] = true
	}
	for s := range c.changes.removedSites {
		out.changes.removedSites[s] = true
	}
	return out
}

// AddSite registers a site. A zero rank on a non-default site is replaced
// by one above every registered site.
func (c *Collection) AddSite(site domain.UpdateSite) error {
	if err := site.Validate(); err != nil {
		return fmt.Errorf("site %q: %w", site.Name, err)
	}
	if _, ok := c.sites[site.Name]; ok {
		return fmt.Errorf("%w: %s", domain.ErrSiteExists, site.Name)
	}
	if site.IsDefault() {
		site.Rank = 0
	} else if site.Rank <= 0 {
		site.Rank = c.maxRank() + 1
	}
	c.sites[site.Name] = &site
	c.changes.sites[site.Name] = true
	delete(c.changes.removedSites, site.Name)
	return nil
}

func (c *Collection) maxRank() int {
	max := 0
	for _, s := range c.sites {
		if s.Rank > max {
			max = s.Rank
		}
	}
	return max
}

// Site returns a copy of the named site
func (c *Collection) Site(name string) (domain.UpdateSite, error) {
	s, ok := c.sites[name]
	if !ok {
		return domain.UpdateSite{}, &domain.UnknownSiteError{Name: name}
	}
	return *s, nil
}

// HasSite reports whether name is registered
func (c *Collection) HasSite(name string) bool {
	_, ok := c.sites[name]
	return ok
}

// Sites returns all sites ordered by rank
func (c *Collection) Sites() []domain.UpdateSite {
	out := make([]domain.UpdateSite, 0, len(c.sites))
	for _, s := range c.sites {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SetManifestVersion records the remote manifest version last synchronized
func (c *Collection) SetManifestVersion(name string, version int64) error {
	s, ok := c.sites[name]
	if !ok {
		return &domain.UnknownSiteError{Name: name}
	}
	if s.ManifestVersion != version {
		s.ManifestVersion = version
		c.changes.sites[name] = true
	}
	return nil
}

// SetSiteURL moves a site to a new location
func (c *Collection) SetSiteURL(name, url string) error {
	s, ok := c.sites[name]
	if !ok {
		return &domain.UnknownSiteError{Name: name}
	}
	if s.URL != url {
		s.URL = url
		c.changes.sites[name] = true
	}
	return nil
}

// RemoveSite drops the site, every record and shadow assignment it owns,
// and files left with neither records nor local presence.
func (c *Collection) RemoveSite(name string) ([]string, error) {
	s, ok := c.sites[name]
	if !ok {
		return nil, &domain.UnknownSiteError{Name: name}
	}
	if s.IsDefault() {
		return nil, fmt.Errorf("%w: cannot remove %s", domain.ErrDefaultSite, name)
	}

	var affected []string
	for path, f := range c.files {
		touched := false
		if _, ok := f.Records[name]; ok {
			delete(f.Records, name)
			touched = true
		}
		// Keep the baseline checksum and version: they still describe what
		// is on disk and decide MODIFIED against the next owner.
		if f.InstalledFrom == name {
			f.InstalledFrom = ""
			touched = true
		}
		if c.shadows[path] == name {
			delete(c.shadows, path)
			touched = true
		}
		if touched {
			affected = append(affected, path)
			c.changes.paths[path] = true
		}
	}

	delete(c.sites, name)
	delete(c.changes.sites, name)
	c.changes.removedSites[name] = true

	for _, path := range affected {
		c.prune(path)
	}
	sort.Strings(affected)
	return affected, nil
}

// Ranks returns the rank of every site
func (c *Collection) Ranks() map[string]int {
	ranks := make(map[string]int, len(c.sites))
	for n, s := range c.sites {
		ranks[n] = s.Rank
	}
	return ranks
}

// File returns the managed file at path
func (c *Collection) File(path string) (*domain.ManagedFile, bool) {
	f, ok := c.files[path]
	return f, ok
}

// Files returns all managed files ordered by path
func (c *Collection) Files() []*domain.ManagedFile {
	out := make([]*domain.ManagedFile, 0, len(c.files))
	for _, f := range c.files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of managed files
func (c *Collection) Len() int {
	return len(c.files)
}

// ensure returns the file at path, creating it when absent
func (c *Collection) ensure(path string) *domain.ManagedFile {
	f, ok := c.files[path]
	if !ok {
		f = domain.NewManagedFile(path)
		c.files[path] = f
	}
	return f
}

// Restore inserts a persisted file as is, without marking it dirty
func (c *Collection) Restore(f *domain.ManagedFile) error {
	for site := range f.Records {
		if !c.HasSite(site) {
			return &domain.UnknownSiteError{Name: site}
		}
	}
	if f.InstalledFrom != "" && !c.HasSite(f.InstalledFrom) {
		f.InstalledFrom = ""
	}
	c.files[f.Path] = f
	return nil
}

// RestoreShadow inserts a persisted shadow assignment without marking it dirty
func (c *Collection) RestoreShadow(path, site string) error {
	if !c.HasSite(site) {
		return &domain.UnknownSiteError{Name: site}
	}
	c.shadows[path] = site
	return nil
}

// SetRecord writes site's record for path
func (c *Collection) SetRecord(path, site string, rec domain.SiteRecord) error {
	if !c.HasSite(site) {
		return &domain.UnknownSiteError{Name: site}
	}
	f := c.ensure(path)
	f.Records[site] = rec
	c.changes.paths[path] = true
	return nil
}

// ReplaceSiteRecords makes records the complete declaration of site,
// as after downloading its manifest
func (c *Collection) ReplaceSiteRecords(site string, records map[string]domain.SiteRecord) error {
	if !c.HasSite(site) {
		return &domain.UnknownSiteError{Name: site}
	}

	for path, f := range c.files {
		if _, declared := records[path]; declared {
			continue
		}
		if _, ok := f.Records[site]; ok {
			delete(f.Records, site)
			c.changes.paths[path] = true
			c.prune(path)
		}
	}

	for path, rec := range records {
		f := c.ensure(path)
		if old, ok := f.Records[site]; ok && recordsEqual(old, rec) {
			continue
		}
		f.Records[site] = rec
		c.changes.paths[path] = true
	}
	return nil
}

func recordsEqual(a, b domain.SiteRecord) bool {
	return a.Checksum == b.Checksum && a.Version == b.Version &&
		a.Obsolete == b.Obsolete && a.Timestamp.Equal(b.Timestamp)
}

// SiteRecords returns the complete declaration of site keyed by path
func (c *Collection) SiteRecords(site string) map[string]domain.SiteRecord {
	out := make(map[string]domain.SiteRecord)
	for path, f := range c.files {
		if rec, ok := f.Records[site]; ok {
			out[path] = rec
		}
	}
	return out
}

// SetLocal records what the disk scan saw for path (nil = absent)
func (c *Collection) SetLocal(path string, local *domain.LocalState) {
	if local == nil {
		if f, ok := c.files[path]; ok && f.Local != nil {
			f.Local = nil
			c.prune(path)
		}
		return
	}
	f := c.ensure(path)
	l := *local
	f.Local = &l
}

// MarkInstalled sets the baseline after content from site at version landed on disk
func (c *Collection) MarkInstalled(path, site string, version int64, checksum string) error {
	if !c.HasSite(site) {
		return &domain.UnknownSiteError{Name: site}
	}
	f, ok := c.files[path]
	if !ok {
		return &domain.UnknownPathError{Path: path}
	}
	f.InstalledFrom = site
	f.LocalVersion = version
	f.InstalledChecksum = checksum
	c.changes.paths[path] = true
	return nil
}

// MarkUninstalled clears local presence and the content baseline,
// keeping the version so later uploads stay monotonic
func (c *Collection) MarkUninstalled(path string) {
	f, ok := c.files[path]
	if !ok {
		return
	}
	f.Local = nil
	f.InstalledChecksum = ""
	f.InstalledFrom = ""
	c.changes.paths[path] = true
	c.prune(path)
}

// SetShadow force-shadows path onto site
func (c *Collection) SetShadow(path, site string) error {
	if !c.HasSite(site) {
		return &domain.UnknownSiteError{Name: site}
	}
	if c.shadows[path] != site {
		c.shadows[path] = site
		c.changes.paths[path] = true
	}
	return nil
}

// Shadow returns the force-shadowing site for path, if any
func (c *Collection) Shadow(path string) string {
	return c.shadows[path]
}

// Shadows returns a copy of every shadow assignment
func (c *Collection) Shadows() map[string]string {
	out := make(map[string]string, len(c.shadows))
	for p, s := range c.shadows {
		out[p] = s
	}
	return out
}

// Resolve computes the status of path
func (c *Collection) Resolve(path string) (domain.Resolution, error) {
	f, ok := c.files[path]
	if !ok {
		return domain.Resolution{}, &domain.UnknownPathError{Path: path}
	}
	return c.resolver.Resolve(f, c.Ranks(), c.shadows[path]), nil
}

// ResolveAll computes the status of every file ordered by path
func (c *Collection) ResolveAll() []domain.Resolution {
	ranks := c.Ranks()
	out := make([]domain.Resolution, 0, len(c.files))
	for _, f := range c.Files() {
		out = append(out, c.resolver.Resolve(f, ranks, c.shadows[f.Path]))
	}
	return out
}

// PruneEmpty drops every file with neither local presence nor records
func (c *Collection) PruneEmpty() {
	for path := range c.files {
		c.prune(path)
	}
}

// prune removes path when it has neither local presence nor records
func (c *Collection) prune(path string) {
	f, ok := c.files[path]
	if !ok || !f.IsEmpty() {
		return
	}
	delete(c.files, path)
	delete(c.shadows, path)
	c.changes.paths[path] = true
}

// Changes returns what was touched since the last ClearChanges
func (c *Collection) Changes() Changes {
	var out Changes
	for p := range c.changes.paths {
		out.Paths = append(out.Paths, p)
	}
	for s := range c.changes.sites {
		out.Sites = append(out.Sites, s)
	}
	for s := range c.changes.removedSites {
		out.RemovedSites = append(out.RemovedSites, s)
	}
	sort.Strings(out.Paths)
	sort.Strings(out.Sites)
	sort.Strings(out.RemovedSites)
	return out
}

// ClearChanges forgets tracked changes after a successful save
func (c *Collection) ClearChanges() {
	c.changes = newChangeSet()
}
