package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Ning0612/siteupdater/internal/collection"
	"github.com/Ning0612/siteupdater/internal/domain"
	"github.com/Ning0612/siteupdater/internal/manifest"
)

// publish executes an upload plan against its site. File contents go first
// under versioned keys; the manifest push is the commit point. With
// republish the manifest is pushed even if no record changed.
func (e *Engine) publish(ctx context.Context, c *collection.Collection, plan *domain.Plan, res *Result, republish bool) error {
	if e.offline {
		return fmt.Errorf("%s: %w", plan.Command, domain.ErrOffline)
	}
	site, err := c.Site(plan.Site)
	if err != nil {
		return err
	}
	log := e.log.With("site", site.Name)

	now := e.clock.Now().UTC()
	e.reporter.SetTotal(plan.Stats.FilesToUpload, plan.Stats.BytesToTransfer)

	changed := false
	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch action.Type {
		case domain.ActionUpload:
			data, err := e.readLocal(action)
			if err != nil {
				return err
			}
			rec := *action.Record
			rec.Timestamp = now

			if err := e.transport.PushFile(ctx, site, action.Path, rec.Version, data); err != nil {
				return err
			}
			if err := c.SetRecord(action.Path, site.Name, rec); err != nil {
				return err
			}
			if err := c.MarkInstalled(action.Path, site.Name, rec.Version, rec.Checksum); err != nil {
				return err
			}
			changed = true
			res.FilesChanged++
			res.BytesTransferred += int64(len(data))
			e.reporter.OverallProgress(res.FilesChanged, res.BytesTransferred)
			log.Debug("Uploaded file", "path", action.Path, "version", rec.Version, "reason", action.Reason)

		case domain.ActionTombstone:
			rec := *action.Record
			rec.Timestamp = now
			if err := c.SetRecord(action.Path, site.Name, rec); err != nil {
				return err
			}
			c.MarkUninstalled(action.Path)
			changed = true
			res.FilesChanged++
			log.Debug("Marked file obsolete", "path", action.Path, "version", rec.Version)

		case domain.ActionClaim:
			if action.Local != nil {
				if err := c.MarkInstalled(action.Path, site.Name, action.Record.Version, action.Record.Checksum); err != nil {
					return err
				}
			}
			log.Debug("Claimed file", "path", action.Path, "reason", action.Reason)

		default:
			continue
		}

		if action.Shadow {
			if err := c.SetShadow(action.Path, site.Name); err != nil {
				return err
			}
		}
	}

	if !changed && !republish {
		return nil
	}
	return e.pushManifest(ctx, c, site, now)
}

// pushManifest publishes every record c holds for site as the next manifest version
func (e *Engine) pushManifest(ctx context.Context, c *collection.Collection, site domain.UpdateSite, now time.Time) error {
	m := manifest.New(site.Name, site.ManifestVersion+1, now)
	m.Records = c.SiteRecords(site.Name)

	data, err := manifest.Marshal(m)
	if err != nil {
		return err
	}
	if err := e.transport.PushManifest(ctx, site, data, site.ManifestVersion); err != nil {
		return err
	}
	if err := c.SetManifestVersion(site.Name, m.Version); err != nil {
		return err
	}
	e.log.Info("Published manifest", "site", site.Name, "version", m.Version, "records", len(m.Records))
	return nil
}

// readLocal reads the bytes of an upload and checks they are still what the scan saw
func (e *Engine) readLocal(action domain.Action) ([]byte, error) {
	data, err := afero.ReadFile(e.fs, e.scanner.Abs(action.Path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", action.Path, err)
	}
	if sum := e.calc.SumBytes(data); sum != action.Local.Checksum {
		return nil, fmt.Errorf("%s changed during upload, rerun the command", action.Path)
	}
	return data, nil
}

// install downloads the record chosen by action into the local tree
func (e *Engine) install(ctx context.Context, c *collection.Collection, action domain.Action) (int64, error) {
	site, err := c.Site(action.Site)
	if err != nil {
		return 0, err
	}
	rec := *action.Record

	data, err := e.transport.FetchFile(ctx, site, action.Path, rec.Version)
	if err != nil {
		return 0, err
	}
	if sum := e.calc.SumBytes(data); sum != rec.Checksum {
		return 0, &domain.ManifestCorruptionError{
			Site: site.Name,
			Err:  fmt.Errorf("%s version %d: checksum %s does not match manifest", action.Path, rec.Version, sum),
		}
	}

	if err := writeAtomic(e.fs, e.scanner.Abs(action.Path), data); err != nil {
		return 0, fmt.Errorf("install %s: %w", action.Path, err)
	}

	local, err := e.scanner.Stat(ctx, action.Path)
	if err != nil {
		return 0, err
	}
	c.SetLocal(action.Path, local)
	if err := c.MarkInstalled(action.Path, site.Name, rec.Version, rec.Checksum); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// uninstall removes an obsolete file from the local tree
func (e *Engine) uninstall(c *collection.Collection, action domain.Action) error {
	if err := e.fs.Remove(e.scanner.Abs(action.Path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("uninstall %s: %w", action.Path, err)
	}
	c.MarkUninstalled(action.Path)
	return nil
}

// writeAtomic replaces path with data through a temp file in the same directory
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()
	if writeErr != nil {
		fs.Remove(tmpPath)
		return writeErr
	}
	if closeErr != nil {
		fs.Remove(tmpPath)
		return closeErr
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return err
	}
	return nil
}
