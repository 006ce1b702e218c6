package status

import (
	"github.com/Ning0612/siteupdater/internal/core/diff"
	"github.com/Ning0612/siteupdater/internal/core/shadow"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// Resolver maps one managed file to its status and owning site.
// Resolve must be a pure function of its arguments.
type Resolver interface {
	Resolve(file *domain.ManagedFile, ranks map[string]int, forced string) domain.Resolution
}

// DefaultResolver combines a shadow.Selector with a diff.Comparer
type DefaultResolver struct {
	Selector shadow.Selector
	Differ   diff.Comparer
}

// NewDefaultResolver creates a resolver with the given tie-break policy
func NewDefaultResolver(policy domain.TieBreak) *DefaultResolver {
	return &DefaultResolver{
		Selector: shadow.NewDefaultSelector(policy),
		Differ:   diff.NewDefaultComparer(),
	}
}

// Resolve implements the Resolver interface.
// A file with neither local presence nor records yields an empty Status;
// collections never hold such files.
func (r *DefaultResolver) Resolve(file *domain.ManagedFile, ranks map[string]int, forced string) domain.Resolution {
	res := domain.Resolution{Path: file.Path}

	site, rec, ok := r.Selector.Select(file, ranks, forced)
	if !ok {
		if file.IsLocal() {
			res.Status = domain.StatusLocalOnly
		}
		return res
	}
	res.Site = site
	res.Record = rec

	if rec.Obsolete {
		if file.IsLocal() {
			res.Status = domain.StatusObsolete
		} else {
			res.Status = domain.StatusObsoleteUninstalled
		}
		return res
	}

	if !file.IsLocal() {
		res.Status = domain.StatusNotInstalled
		return res
	}

	switch r.Differ.Compare(file.Local, file.LocalVersion, file.InstalledChecksum, rec) {
	case diff.Identical:
		res.Status = domain.StatusInstalled
	case diff.RemoteChanged:
		res.Status = domain.StatusUpdateable
	case diff.BothChanged:
		// Local edits take precedence and are never overwritten silently
		res.Status = domain.StatusModified
		res.Conflict = true
	default:
		res.Status = domain.StatusModified
	}
	return res
}
