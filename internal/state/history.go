package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Execution statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// ExecutionRecord represents one command run
type ExecutionRecord struct {
	ID               string
	Command          string
	Site             string
	StartTime        time.Time
	EndTime          time.Time
	Status           string // "success", "failed", "partial"
	FilesChanged     int
	BytesTransferred int64
	Error            string
}

const executionColumns = `id, command, site, start_time, end_time, status, files_changed, bytes_transferred, error`

// SaveExecution records a command run and returns its ID
func (m *Manager) SaveExecution(record ExecutionRecord) (string, error) {
	if record.Status != StatusSuccess && record.Status != StatusFailed && record.Status != StatusPartial {
		return "", fmt.Errorf("invalid status: %s (must be 'success', 'failed', or 'partial')", record.Status)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	query := `INSERT INTO executions (` + executionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := m.db.Exec(query,
		record.ID,
		record.Command,
		record.Site,
		record.StartTime,
		record.EndTime,
		record.Status,
		record.FilesChanged,
		record.BytesTransferred,
		record.Error,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save execution record: %w", err)
	}

	return record.ID, nil
}

// GetHistory retrieves execution history for a command
func (m *Manager) GetHistory(command string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE command = ?
		ORDER BY start_time DESC
		LIMIT ?`

	rows, err := m.db.Query(query, command, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanExecutions(rows)
}

// GetAllHistory retrieves execution history of every command
func (m *Manager) GetAllHistory(limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	query := `SELECT ` + executionColumns + ` FROM executions
		ORDER BY start_time DESC
		LIMIT ?`

	rows, err := m.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query all history: %w", err)
	}
	return scanExecutions(rows)
}

// GetLastSuccess retrieves the last successful run of a command
func (m *Manager) GetLastSuccess(command string) (*ExecutionRecord, error) {
	query := `SELECT ` + executionColumns + ` FROM executions
		WHERE command = ? AND status = 'success'
		ORDER BY start_time DESC
		LIMIT 1`

	record, err := scanExecution(m.db.QueryRow(query, command))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (ExecutionRecord, error) {
	var record ExecutionRecord
	var errText sql.NullString
	err := row.Scan(
		&record.ID,
		&record.Command,
		&record.Site,
		&record.StartTime,
		&record.EndTime,
		&record.Status,
		&record.FilesChanged,
		&record.BytesTransferred,
		&errText,
	)
	record.Error = errText.String
	return record, err
}

func scanExecutions(rows *sql.Rows) ([]ExecutionRecord, error) {
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
