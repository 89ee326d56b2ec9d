// Package history records the calls made by the restcall CLI in a SQLite database.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/studiowebux/restcall/internal/config"
	"github.com/studiowebux/restcall/internal/migrations"
	"github.com/studiowebux/restcall/internal/types"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const timestampLayout = "2006-01-02 15:04:05.000000"

type Manager struct {
	db *sql.DB
}

// NewManager opens the history database at dbPath, creating and migrating it as needed
func NewManager(dbPath string) (*Manager, error) {
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), config.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if dbPath == MemoryPath {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Manager{db: db}, nil
}

// NewEntry builds the history entry of a CLI call
func NewEntry(profileName, requestFile string, result *types.RequestResult) types.HistoryEntry {
	return types.HistoryEntry{
		Timestamp:   time.Now(),
		ProfileName: profileName,
		RequestFile: requestFile,
		Operation:   result.Operation,
		Method:      result.Method,
		URL:         result.URL,
		Status:      result.Status,
		StatusText:  result.StatusText,
		ErrorCode:   result.ErrorCode,
		Duration:    result.Duration,
		Size:        result.ResponseSize,
		Error:       result.Error,
	}
}

// Save stores an entry and returns its id
func (m *Manager) Save(entry types.HistoryEntry) (int64, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	res, err := m.db.Exec(`
		INSERT INTO history (
			timestamp, profile_name, request_file, operation, method, url,
			status, status_text, error_code, duration_ms, response_size, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(timestampLayout),
		entry.ProfileName,
		entry.RequestFile,
		entry.Operation,
		entry.Method,
		entry.URL,
		entry.Status,
		entry.StatusText,
		entry.ErrorCode,
		entry.Duration,
		entry.Size,
		entry.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save history entry: %w", err)
	}
	return res.LastInsertId()
}

// Query selects history entries; zero fields don't filter
type Query struct {
	ProfileName string
	Operation   string
	RequestFile string
	FailedOnly  bool
	Limit       int
}

// Load returns the entries matching q, newest first
func (m *Manager) Load(q Query) ([]types.HistoryEntry, error) {
	where, args := q.where()
	query := `
		SELECT id, timestamp, profile_name, request_file, operation, method, url,
		       status, status_text, error_code, duration_ms, response_size, error
		FROM history` + where + `
		ORDER BY timestamp DESC, id DESC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Get returns one entry by id
func (m *Manager) Get(id int64) (types.HistoryEntry, error) {
	rows, err := m.db.Query(`
		SELECT id, timestamp, profile_name, request_file, operation, method, url,
		       status, status_text, error_code, duration_ms, response_size, error
		FROM history WHERE id = ?`, id)
	if err != nil {
		return types.HistoryEntry{}, fmt.Errorf("failed to load history entry: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return types.HistoryEntry{}, err
	}
	if len(entries) == 0 {
		return types.HistoryEntry{}, fmt.Errorf("history entry %d not found", id)
	}
	return entries[0], nil
}

func (q Query) where() (string, []any) {
	var clauses []string
	var args []any
	if q.ProfileName != "" {
		clauses = append(clauses, "profile_name = ?")
		args = append(args, q.ProfileName)
	}
	if q.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, q.Operation)
	}
	if q.RequestFile != "" {
		clauses = append(clauses, "request_file = ?")
		args = append(args, q.RequestFile)
	}
	if q.FailedOnly {
		clauses = append(clauses, "(status = 0 OR status >= 400 OR error != '')")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]types.HistoryEntry, error) {
	var entries []types.HistoryEntry

	for rows.Next() {
		var entry types.HistoryEntry
		var timestamp string
		err := rows.Scan(
			&entry.ID,
			&timestamp,
			&entry.ProfileName,
			&entry.RequestFile,
			&entry.Operation,
			&entry.Method,
			&entry.URL,
			&entry.Status,
			&entry.StatusText,
			&entry.ErrorCode,
			&entry.Duration,
			&entry.Size,
			&entry.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		entry.Timestamp, err = time.ParseInLocation(timestampLayout, timestamp, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("history entry %d has invalid timestamp %q: %w", entry.ID, timestamp, err)
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// OperationStats summarizes the calls of one operation and method
type OperationStats struct {
	Operation   string
	Method      string
	Calls       int
	Errors      int
	AvgDuration float64 // milliseconds
	MaxDuration int64   // milliseconds
	LastCalled  time.Time
}

// Stats groups the entries of a profile by operation and method, most called first
func (m *Manager) Stats(profileName string) ([]OperationStats, error) {
	where, args := Query{ProfileName: profileName}.where()
	rows, err := m.db.Query(`
		SELECT operation, method, COUNT(*),
		       SUM(CASE WHEN status = 0 OR status >= 400 OR error != '' THEN 1 ELSE 0 END),
		       AVG(duration_ms), MAX(duration_ms), MAX(timestamp)
		FROM history`+where+`
		GROUP BY operation, method
		ORDER BY COUNT(*) DESC, operation, method`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load history stats: %w", err)
	}
	defer rows.Close()

	var stats []OperationStats
	for rows.Next() {
		var s OperationStats
		var last string
		if err := rows.Scan(&s.Operation, &s.Method, &s.Calls, &s.Errors, &s.AvgDuration, &s.MaxDuration, &last); err != nil {
			return nil, fmt.Errorf("failed to scan history stats: %w", err)
		}
		if s.LastCalled, err = time.ParseInLocation(timestampLayout, last, time.UTC); err != nil {
			return nil, fmt.Errorf("invalid history timestamp %q: %w", last, err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Clear deletes the entries of a profile, or every entry when profileName is empty
func (m *Manager) Clear(profileName string) (int64, error) {
	where, args := Query{ProfileName: profileName}.where()
	res, err := m.db.Exec("DELETE FROM history"+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear history: %w", err)
	}
	return res.RowsAffected()
}

func (m *Manager) Delete(id int64) error {
	_, err := m.db.Exec("DELETE FROM history WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

func (m *Manager) GetCount() (int, error) {
	var count int
	err := m.db.QueryRow("SELECT COUNT(*) FROM history").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get history count: %w", err)
	}
	return count, nil
}

func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
