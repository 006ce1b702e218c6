package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DBFile is the database file name inside the state directory
const DBFile = "state.db"

// Manager handles persistence of the files collection and command history
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the state database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode and busy timeout: %w", err)
	}

	manager := &Manager{db: db}

	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		rank INTEGER NOT NULL,
		manifest_version INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS files (
		path TEXT PRIMARY KEY,
		local_version INTEGER NOT NULL DEFAULT 0,
		installed_checksum TEXT NOT NULL DEFAULT '',
		installed_from TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS records (
		path TEXT NOT NULL,
		site TEXT NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		obsolete INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (path, site)
	);

	CREATE INDEX IF NOT EXISTS idx_records_site ON records(site);

	CREATE TABLE IF NOT EXISTS shadows (
		path TEXT PRIMARY KEY,
		site TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		site TEXT NOT NULL DEFAULT '',
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		files_changed INTEGER DEFAULT 0,
		bytes_transferred INTEGER DEFAULT 0,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_executions_command_time ON executions(command, start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	`

	_, err := m.db.Exec(schema)
	return err
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
