package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/Ning0612/siteupdater/internal/collection"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/state"
)

// Upload publishes the given paths to site (the default site when empty).
// A path missing locally becomes a tombstone on the site.
func (e *Engine) Upload(ctx context.Context, site string, paths []string) (*Result, error) {
	if site == "" {
		site = domain.DefaultSiteName
	}
	return e.run(site, func(c *collection.Collection, res *Result) error {
		if err, ok := e.corrupt[site]; ok {
			return &domain.ManifestCorruptionError{Site: site, Err: fmt.Errorf("run upload-complete-site to republish: %w", err)}
		}

		plan, err := e.planner.PlanUpload(c, paths, site)
		if err != nil {
			return err
		}
		res.Plan = plan
		e.log.Info("Planned upload",
			"site", site,
			"uploads", plan.Stats.FilesToUpload,
			"tombstones", plan.Stats.FilesToObsolete,
			"claims", plan.Stats.Claims,
		)
		if !plan.HasChanges() {
			return nil
		}
		return e.publish(ctx, c, plan, res, false)
	})
}

// UploadCompleteSite reconciles site with the local tree. With forceShadow
// every local file is published and shadowed onto the site.
func (e *Engine) UploadCompleteSite(ctx context.Context, site string, forceShadow bool) (*Result, error) {
	return e.run(site, func(c *collection.Collection, res *Result) error {
		plan, err := e.planner.PlanCompleteSite(c, site, forceShadow)
		if err != nil {
			return err
		}
		res.Plan = plan
		e.log.Info("Planned complete site upload",
			"site", site,
			"force_shadow", forceShadow,
			"uploads", plan.Stats.FilesToUpload,
			"tombstones", plan.Stats.FilesToObsolete,
			"claims", plan.Stats.Claims,
		)

		// A corrupt manifest is replaced even when the local side is unchanged
		_, corrupt := e.corrupt[site]
		if !plan.HasChanges() && !corrupt {
			return nil
		}
		if err := e.publish(ctx, c, plan, res, corrupt); err != nil {
			return err
		}
		delete(e.corrupt, site)
		return nil
	})
}

// AddUpdateSite registers a new site above every existing one and fetches
// its manifest
func (e *Engine) AddUpdateSite(ctx context.Context, name, url string) (*Result, error) {
	return e.run(name, func(c *collection.Collection, res *Result) error {
		if err := c.AddSite(domain.UpdateSite{Name: name, URL: url}); err != nil {
			return err
		}
		site, err := c.Site(name)
		if err != nil {
			return err
		}
		e.log.Info("Added update site", "site", name, "url", url, "rank", site.Rank)

		if e.offline {
			return nil
		}
		if err := e.refresh(ctx, c, []domain.UpdateSite{site}); err != nil {
			return err
		}
		for path, rec := range c.SiteRecords(name) {
			if rec.IsLive() {
				res.Affected = append(res.Affected, path)
			}
		}
		slices.Sort(res.Affected)
		return nil
	})
}

// RemoveUpdateSite drops site with its records and shadow assignments.
// Nothing is pushed; the site keeps its published manifest.
func (e *Engine) RemoveUpdateSite(ctx context.Context, site string) (*Result, error) {
	return e.run(site, func(c *collection.Collection, res *Result) error {
		affected, err := c.RemoveSite(site)
		if err != nil {
			return err
		}
		delete(e.corrupt, site)
		res.Affected = affected

		for _, configured := range e.cfg.Sites {
			if configured.Name == site {
				e.log.Warn("Removed site is still configured and will be added again on the next run", "site", site)
			}
		}
		e.log.Info("Removed update site", "site", site, "affected", len(affected))
		return nil
	})
}

// Update installs and upgrades files from their active records and removes
// obsolete ones. Locally modified files are reported as conflicts unless
// force is set.
func (e *Engine) Update(ctx context.Context, paths []string, force bool) (*Result, error) {
	return e.run("", func(c *collection.Collection, res *Result) error {
		plan, err := e.planner.PlanUpdate(c, paths, force)
		if err != nil {
			return err
		}
		res.Plan = plan
		res.Conflicts = plan.Conflicts

		for _, conflict := range plan.Conflicts {
			e.log.Warn("Skipping modified file", "path", conflict.Path, "site", conflict.Site, "reason", conflict.Reason)
		}
		if plan.Stats.FilesToInstall > 0 && e.offline {
			return fmt.Errorf("update: %w", domain.ErrOffline)
		}

		e.reporter.SetTotal(plan.Stats.FilesToInstall, 0)
		for _, action := range plan.Actions {
			if err := ctx.Err(); err != nil {
				return e.partial(res, err)
			}

			switch action.Type {
			case domain.ActionInstall:
				n, err := e.install(ctx, c, action)
				if err != nil {
					return e.partial(res, err)
				}
				res.FilesChanged++
				res.BytesTransferred += n
				e.reporter.OverallProgress(res.FilesChanged, res.BytesTransferred)
				e.log.Debug("Installed file", "path", action.Path, "site", action.Site, "version", action.Record.Version)

			case domain.ActionUninstall:
				if err := e.uninstall(c, action); err != nil {
					return e.partial(res, err)
				}
				res.FilesChanged++
				e.log.Debug("Removed obsolete file", "path", action.Path, "site", action.Site)

			case domain.ActionClaim:
				if err := c.MarkInstalled(action.Path, action.Site, action.Record.Version, action.Record.Checksum); err != nil {
					return e.partial(res, err)
				}
			}
		}
		return nil
	})
}

// partial keeps the files already written when an update stops midway
func (e *Engine) partial(res *Result, err error) error {
	if res.FilesChanged == 0 {
		return err
	}
	return &partialError{err: err}
}

// Status resolves paths, or every managed file when paths is empty
func (e *Engine) Status(paths []string) ([]domain.Resolution, error) {
	if e.coll == nil {
		return nil, fmt.Errorf("engine is not open")
	}
	if len(paths) == 0 {
		return e.coll.ResolveAll(), nil
	}

	out := make([]domain.Resolution, 0, len(paths))
	for _, raw := range paths {
		path, err := collection.CleanPath(raw)
		if err != nil {
			return nil, err
		}
		res, err := e.coll.Resolve(path)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Conflicts returns a ConflictError for every file changed both locally
// and on its site since install
func (e *Engine) Conflicts() []error {
	if e.coll == nil {
		return nil
	}
	var out []error
	for _, res := range e.coll.ResolveAll() {
		if res.Conflict {
			out = append(out, &domain.ConflictError{Path: res.Path, Site: res.Site})
		}
	}
	return out
}

// ListSites returns every registered site ordered by rank
func (e *Engine) ListSites() []domain.UpdateSite {
	if e.coll == nil {
		return nil
	}
	return e.coll.Sites()
}

// History returns the most recent command runs, newest first
func (e *Engine) History(limit int) ([]state.ExecutionRecord, error) {
	if e.store == nil {
		return nil, fmt.Errorf("engine is not open")
	}
	return e.store.GetAllHistory(limit)
}
