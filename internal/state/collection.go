package state

import (
	"database/sql"
	"fmt"

	"github.com/Ning0612/siteupdater/internal/collection"
	"github.com/Ning0612/siteupdater/internal/core/status"
	"github.com/Ning0612/siteupdater/internal/domain"
)

// LoadCollection restores the persisted sites, files, records and shadow
// assignments. Local presence is not persisted; callers rescan the tree.
func (m *Manager) LoadCollection(resolver status.Resolver) (*collection.Collection, error) {
	c := collection.New(resolver)

	if err := m.loadSites(c); err != nil {
		return nil, err
	}

	files, err := m.loadFiles()
	if err != nil {
		return nil, err
	}
	if err := m.loadRecords(files); err != nil {
		return nil, err
	}
	for _, f := range files {
		if err := c.Restore(f); err != nil {
			return nil, fmt.Errorf("restore %s: %w", f.Path, err)
		}
	}

	if err := m.loadShadows(c); err != nil {
		return nil, err
	}

	c.ClearChanges()
	return c, nil
}

func (m *Manager) loadSites(c *collection.Collection) error {
	rows, err := m.db.Query(`SELECT name, url, rank, manifest_version FROM sites ORDER BY rank`)
	if err != nil {
		return fmt.Errorf("failed to query sites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var site domain.UpdateSite
		if err := rows.Scan(&site.Name, &site.URL, &site.Rank, &site.ManifestVersion); err != nil {
			return fmt.Errorf("failed to scan site: %w", err)
		}
		version := site.ManifestVersion
		if err := c.AddSite(site); err != nil {
			return fmt.Errorf("restore site %s: %w", site.Name, err)
		}
		if err := c.SetManifestVersion(site.Name, version); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (m *Manager) loadFiles() (map[string]*domain.ManagedFile, error) {
	rows, err := m.db.Query(`SELECT path, local_version, installed_checksum, installed_from FROM files`)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]*domain.ManagedFile)
	for rows.Next() {
		var path string
		f := &domain.ManagedFile{Records: make(map[string]domain.SiteRecord)}
		if err := rows.Scan(&path, &f.LocalVersion, &f.InstalledChecksum, &f.InstalledFrom); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		f.Path = path
		files[path] = f
	}
	return files, rows.Err()
}

func (m *Manager) loadRecords(files map[string]*domain.ManagedFile) error {
	rows, err := m.db.Query(`SELECT path, site, checksum, version, timestamp, obsolete FROM records`)
	if err != nil {
		return fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, site string
		var rec domain.SiteRecord
		if err := rows.Scan(&path, &site, &rec.Checksum, &rec.Version, &rec.Timestamp, &rec.Obsolete); err != nil {
			return fmt.Errorf("failed to scan record: %w", err)
		}
		f, ok := files[path]
		if !ok {
			f = domain.NewManagedFile(path)
			files[path] = f
		}
		f.Records[site] = rec
	}
	return rows.Err()
}

func (m *Manager) loadShadows(c *collection.Collection) error {
	rows, err := m.db.Query(`SELECT path, site FROM shadows`)
	if err != nil {
		return fmt.Errorf("failed to query shadows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var path, site string
		if err := rows.Scan(&path, &site); err != nil {
			return fmt.Errorf("failed to scan shadow: %w", err)
		}
		if err := c.RestoreShadow(path, site); err != nil {
			return fmt.Errorf("restore shadow of %s: %w", path, err)
		}
	}
	return rows.Err()
}

// SaveCollection writes everything that changed since the last save in one
// transaction, then clears the change set. Unchanged rows are not touched.
func (m *Manager) SaveCollection(c *collection.Collection) error {
	changes := c.Changes()
	if changes.IsEmpty() {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, name := range changes.RemovedSites {
		for _, q := range []string{
			`DELETE FROM sites WHERE name = ?`,
			`DELETE FROM records WHERE site = ?`,
			`DELETE FROM shadows WHERE site = ?`,
		} {
			if _, err := tx.Exec(q, name); err != nil {
				return fmt.Errorf("failed to remove site %s: %w", name, err)
			}
		}
		if _, err := tx.Exec(`UPDATE files SET installed_from = '' WHERE installed_from = ?`, name); err != nil {
			return fmt.Errorf("failed to remove site %s: %w", name, err)
		}
	}

	for _, name := range changes.Sites {
		site, err := c.Site(name)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`INSERT INTO sites (name, url, rank, manifest_version) VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET url = excluded.url, rank = excluded.rank, manifest_version = excluded.manifest_version`,
			site.Name, site.URL, site.Rank, site.ManifestVersion)
		if err != nil {
			return fmt.Errorf("failed to save site %s: %w", name, err)
		}
	}

	for _, path := range changes.Paths {
		if err := savePath(tx, c, path); err != nil {
			return fmt.Errorf("failed to save %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	c.ClearChanges()
	return nil
}

// savePath replaces every row of one path
func savePath(tx *sql.Tx, c *collection.Collection, path string) error {
	for _, q := range []string{
		`DELETE FROM files WHERE path = ?`,
		`DELETE FROM records WHERE path = ?`,
		`DELETE FROM shadows WHERE path = ?`,
	} {
		if _, err := tx.Exec(q, path); err != nil {
			return err
		}
	}

	f, ok := c.File(path)
	if !ok {
		return nil
	}

	// A file known only from the disk scan has nothing worth persisting
	if len(f.Records) > 0 || f.LocalVersion > 0 || f.InstalledChecksum != "" {
		if _, err := tx.Exec(`INSERT INTO files (path, local_version, installed_checksum, installed_from) VALUES (?, ?, ?, ?)`,
			path, f.LocalVersion, f.InstalledChecksum, f.InstalledFrom); err != nil {
			return err
		}
	}

	for site, rec := range f.Records {
		if _, err := tx.Exec(`INSERT INTO records (path, site, checksum, version, timestamp, obsolete) VALUES (?, ?, ?, ?, ?, ?)`,
			path, site, rec.Checksum, rec.Version, rec.Timestamp.UTC(), rec.Obsolete); err != nil {
			return err
		}
	}

	if site := c.Shadow(path); site != "" {
		if _, err := tx.Exec(`INSERT INTO shadows (path, site) VALUES (?, ?)`, path, site); err != nil {
			return err
		}
	}
	return nil
}
