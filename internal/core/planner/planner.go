package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Ning0612/siteupdater/internal/collection"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// Planner turns a collection snapshot into the actions of one command.
// Planning never mutates the collection.
type Planner interface {
	PlanUpload(c *collection.Collection, paths []string, site string) (*domain.Plan, error)
	PlanCompleteSite(c *collection.Collection, site string, forceShadow bool) (*domain.Plan, error)
	PlanUpdate(c *collection.Collection, paths []string, force bool) (*domain.Plan, error)
}

// DefaultPlanner is the stock Planner
type DefaultPlanner struct{}

// NewDefaultPlanner creates a new planner
func NewDefaultPlanner() *DefaultPlanner {
	return &DefaultPlanner{}
}

// PlanUpload plans `upload` of explicit paths to site.
// Every path is validated before any action is produced.
func (p *DefaultPlanner) PlanUpload(c *collection.Collection, paths []string, site string) (*domain.Plan, error) {
	if !c.HasSite(site) {
		return nil, &domain.UnknownSiteError{Name: site}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths given", domain.ErrUnknownPath)
	}

	plan := &domain.Plan{Command: "upload", Site: site, Actions: make([]domain.Action, 0, len(paths))}
	seen := make(map[string]bool, len(paths))

	for _, raw := range paths {
		path, err := collection.CleanPath(raw)
		if err != nil {
			return nil, err
		}
		if seen[path] {
			continue
		}
		seen[path] = true

		f, ok := c.File(path)
		if !ok {
			return nil, &domain.UnknownPathError{Path: path}
		}

		// An explicit upload takes the path over from a shadowing site
		moveShadow := shadowedElsewhere(c, path, site)
		if f.IsLocal() {
			plan.Actions = append(plan.Actions, uploadOrClaim(f, site, moveShadow, c.Shadow(path)))
			continue
		}

		// Deletion intent
		rec, declared := f.Records[site]
		switch {
		case declared && rec.IsLive():
			plan.Actions = append(plan.Actions, tombstone(f, site, moveShadow))
		case declared:
			plan.Actions = append(plan.Actions, domain.Action{
				Type: domain.ActionSkip, Path: path, Site: site, Reason: "already obsolete on site",
			})
		default:
			plan.Actions = append(plan.Actions, domain.Action{
				Type: domain.ActionSkip, Path: path, Site: site, Reason: "not on disk and not declared by site",
			})
		}
	}

	sortActions(plan.Actions)
	calculateStats(plan)
	return plan, nil
}

// PlanCompleteSite plans `upload-complete-site`: after execution the site
// declares exactly the local tree in its scope.
//
// Scope is every path the site declares, every local path no site declares
// live, and every path the site currently owns. With forceShadow every local
// path is in scope and gets shadowed onto the site.
func (p *DefaultPlanner) PlanCompleteSite(c *collection.Collection, site string, forceShadow bool) (*domain.Plan, error) {
	if !c.HasSite(site) {
		return nil, &domain.UnknownSiteError{Name: site}
	}

	plan := &domain.Plan{Command: "upload-complete-site", Site: site, Actions: make([]domain.Action, 0)}

	for _, f := range c.Files() {
		rec, declared := f.Records[site]
		res, err := c.Resolve(f.Path)
		if err != nil {
			return nil, err
		}

		inScope := declared || res.Site == site ||
			(f.IsLocal() && !f.HasLiveRecord()) ||
			(forceShadow && f.IsLocal())
		if !inScope {
			continue
		}

		if f.IsLocal() {
			action := uploadOrClaim(f, site, forceShadow, c.Shadow(f.Path))
			if action.Type == domain.ActionUpload && shadowedElsewhere(c, f.Path, site) {
				action.Shadow = true
			}
			if action.Type != domain.ActionSkip {
				plan.Actions = append(plan.Actions, action)
			}
			continue
		}

		if declared && rec.IsLive() {
			plan.Actions = append(plan.Actions, tombstone(f, site, forceShadow || shadowedElsewhere(c, f.Path, site)))
		} else if forceShadow && declared && c.Shadow(f.Path) != site {
			plan.Actions = append(plan.Actions, domain.Action{
				Type: domain.ActionClaim, Path: f.Path, Site: site, Record: &rec, Shadow: true,
				Reason: "shadow existing tombstone",
			})
		}
	}

	sortActions(plan.Actions)
	calculateStats(plan)
	return plan, nil
}

// PlanUpdate plans `update`: bring local files in line with their active
// records. Locally modified files are only overwritten when force is set.
func (p *DefaultPlanner) PlanUpdate(c *collection.Collection, paths []string, force bool) (*domain.Plan, error) {
	var resolutions []domain.Resolution
	if len(paths) == 0 {
		resolutions = c.ResolveAll()
	} else {
		for _, raw := range paths {
			path, err := collection.CleanPath(raw)
			if err != nil {
				return nil, err
			}
			res, err := c.Resolve(path)
			if err != nil {
				return nil, err
			}
			resolutions = append(resolutions, res)
		}
	}

	plan := &domain.Plan{Command: "update", Actions: make([]domain.Action, 0)}

	for _, res := range resolutions {
		f, _ := c.File(res.Path)
		rec := res.Record

		switch res.Status {
		case domain.StatusNotInstalled, domain.StatusUpdateable:
			plan.Actions = append(plan.Actions, domain.Action{
				Type: domain.ActionInstall, Path: res.Path, Site: res.Site, Record: &rec,
				Reason: strings.ToLower(string(res.Status)),
			})

		case domain.StatusModified:
			if force {
				plan.Actions = append(plan.Actions, domain.Action{
					Type: domain.ActionInstall, Path: res.Path, Site: res.Site, Record: &rec,
					Reason: "overwrite local modifications",
				})
			} else {
				reason := "locally modified"
				if res.Conflict {
					reason = "modified locally and on site"
				}
				plan.Actions = append(plan.Actions, domain.Action{
					Type: domain.ActionConflict, Path: res.Path, Site: res.Site, Record: &rec, Reason: reason,
				})
			}

		case domain.StatusObsolete:
			if !force && f.InstalledChecksum != "" && f.Local.Checksum != f.InstalledChecksum {
				plan.Actions = append(plan.Actions, domain.Action{
					Type: domain.ActionConflict, Path: res.Path, Site: res.Site, Record: &rec,
					Reason: "obsolete but locally modified",
				})
				continue
			}
			plan.Actions = append(plan.Actions, domain.Action{
				Type: domain.ActionUninstall, Path: res.Path, Site: res.Site, Record: &rec, Reason: "obsolete",
			})

		case domain.StatusInstalled:
			// Same bytes; adopt the active record so later diffs start from it
			if f.InstalledFrom != res.Site || f.LocalVersion != rec.Version || f.InstalledChecksum != rec.Checksum {
				plan.Actions = append(plan.Actions, domain.Action{
					Type: domain.ActionClaim, Path: res.Path, Site: res.Site, Record: &rec, Reason: "adopt identical record",
				})
			}
		}
	}

	sortActions(plan.Actions)
	calculateStats(plan)
	return plan, nil
}

// uploadOrClaim decides what to do with a local file targeted at site
func uploadOrClaim(f *domain.ManagedFile, site string, shadow bool, currentShadow string) domain.Action {
	local := *f.Local
	rec, declared := f.Records[site]

	if declared && rec.IsLive() && rec.Checksum == local.Checksum {
		needsShadow := shadow && currentShadow != site
		if needsShadow || f.InstalledFrom != site || f.InstalledChecksum != local.Checksum || f.LocalVersion < rec.Version {
			return domain.Action{
				Type: domain.ActionClaim, Path: f.Path, Site: site, Local: &local, Record: &rec, Shadow: shadow,
				Reason: "site already has this content",
			}
		}
		return domain.Action{Type: domain.ActionSkip, Path: f.Path, Site: site, Reason: "unchanged"}
	}

	next := domain.SiteRecord{Checksum: local.Checksum, Version: f.MaxVersion() + 1}
	reason := "new on site"
	if declared {
		reason = "changed locally"
	}
	return domain.Action{
		Type: domain.ActionUpload, Path: f.Path, Site: site, Local: &local, Record: &next, Shadow: shadow, Reason: reason,
	}
}

// shadowedElsewhere reports whether path is force-shadowed onto a site other
// than site. A new record written to site takes the shadow over.
func shadowedElsewhere(c *collection.Collection, path, site string) bool {
	cur := c.Shadow(path)
	return cur != "" && cur != site
}

func tombstone(f *domain.ManagedFile, site string, shadow bool) domain.Action {
	next := domain.SiteRecord{Version: f.MaxVersion() + 1, Obsolete: true}
	return domain.Action{
		Type: domain.ActionTombstone, Path: f.Path, Site: site, Record: &next, Shadow: shadow,
		Reason: "missing locally",
	}
}

// sortActions sorts actions to ensure correct execution order
// 1. Upload / Install (content first)
// 2. Claim
// 3. Tombstone / Uninstall (removals last, deep paths first)
// 4. Conflicts and skips (reported only)
func sortActions(actions []domain.Action) {
	sort.Slice(actions, func(i, j int) bool {
		typeOrderI := actionTypeOrder(actions[i].Type)
		typeOrderJ := actionTypeOrder(actions[j].Type)

		if typeOrderI != typeOrderJ {
			return typeOrderI < typeOrderJ
		}

		depthI := strings.Count(actions[i].Path, "/")
		depthJ := strings.Count(actions[j].Path, "/")

		if depthI != depthJ {
			if actions[i].Type == domain.ActionUninstall {
				return depthI > depthJ
			}
			return depthI < depthJ
		}

		return actions[i].Path < actions[j].Path
	})
}

// actionTypeOrder returns the sort priority for action types
func actionTypeOrder(t domain.ActionType) int {
	switch t {
	case domain.ActionUpload:
		return 1
	case domain.ActionInstall:
		return 2
	case domain.ActionClaim:
		return 3
	case domain.ActionTombstone:
		return 4
	case domain.ActionUninstall:
		return 5
	case domain.ActionConflict:
		return 6
	case domain.ActionSkip:
		return 7
	default:
		return 99
	}
}

// calculateStats computes summary statistics for a plan
func calculateStats(plan *domain.Plan) {
	for _, action := range plan.Actions {
		plan.Stats.TotalFiles++
		switch action.Type {
		case domain.ActionUpload:
			plan.Stats.FilesToUpload++
			if action.Local != nil {
				plan.Stats.BytesToTransfer += action.Local.Size
			}
		case domain.ActionTombstone:
			plan.Stats.FilesToObsolete++
		case domain.ActionInstall:
			plan.Stats.FilesToInstall++
		case domain.ActionUninstall:
			plan.Stats.FilesToRemove++
		case domain.ActionClaim:
			plan.Stats.Claims++
		case domain.ActionConflict:
			plan.Stats.Conflicts++
			plan.Conflicts = append(plan.Conflicts, action)
		}
	}
}
