package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db      *sql.DB
	mu      sync.RWMutex
	closed  bool
	writeMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the checkpoint database at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(60000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Writes are serialized by writeMu; a few readers are enough for progress snapshots
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS upload_tasks (
		content_id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		total_size INTEGER NOT NULL,
		chunk_size INTEGER NOT NULL,
		org_tag TEXT NOT NULL DEFAULT '',
		is_public INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		uploaded TEXT NOT NULL DEFAULT '[]',
		progress REAL NOT NULL DEFAULT 0,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		merged_at DATETIME,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_upload_tasks_status ON upload_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_upload_tasks_created_at ON upload_tasks(created_at);
	`

	_, err := s.db.Exec(query)
	return err
}

const selectColumns = `content_id, file_name, total_size, chunk_size, org_tag, is_public,
	status, uploaded, progress, last_error, created_at, merged_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*TaskRecord, error) {
	var record TaskRecord
	var uploaded string
	var lastError sql.NullString
	var mergedAt sql.NullTime

	err := row.Scan(
		&record.ContentID,
		&record.FileName,
		&record.TotalSize,
		&record.ChunkSize,
		&record.OrgTag,
		&record.IsPublic,
		&record.Status,
		&uploaded,
		&record.Progress,
		&lastError,
		&record.CreatedAt,
		&mergedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(uploaded), &record.Uploaded); err != nil {
		return nil, fmt.Errorf("decode uploaded chunks of %s: %w", record.ContentID, err)
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	if mergedAt.Valid {
		record.MergedAt = mergedAt.Time
	}

	return &record, nil
}

// GetTask retrieves a task record, or nil if none exists
func (s *SQLiteStore) GetTask(contentID string) (*TaskRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	var result *TaskRecord
	err := s.retryOnBusy(func() error {
		row := s.db.QueryRow(`SELECT `+selectColumns+` FROM upload_tasks WHERE content_id = ?`, contentID)
		record, err := scanRecord(row)
		if err == sql.ErrNoRows {
			result = nil
			return nil
		}
		if err != nil {
			return err
		}
		result = record
		return nil
	})
	return result, err
}

// SaveTask inserts or updates a task record
func (s *SQLiteStore) SaveTask(record *TaskRecord) error {
	if s.isClosed() {
		return ErrClosed
	}

	// Serialize writes to avoid SQLITE_BUSY from multiple concurrent writers
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.retryOnBusy(func() error {
		return s.saveTaskWithTransaction(record)
	})
}

func (s *SQLiteStore) saveTaskWithTransaction(record *TaskRecord) error {
	record.UpdatedAt = time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = record.UpdatedAt
	}

	uploaded := record.Uploaded
	if uploaded == nil {
		uploaded = []int{}
	}
	encoded, err := json.Marshal(uploaded)
	if err != nil {
		return fmt.Errorf("encode uploaded chunks: %w", err)
	}

	var mergedAt any
	if !record.MergedAt.IsZero() {
		mergedAt = record.MergedAt
	}
	var lastError any
	if record.LastError != "" {
		lastError = record.LastError
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // This will be ignored if Commit() succeeds

	query := `
	INSERT INTO upload_tasks (` + selectColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(content_id) DO UPDATE SET
		file_name = excluded.file_name,
		total_size = excluded.total_size,
		chunk_size = excluded.chunk_size,
		org_tag = excluded.org_tag,
		is_public = excluded.is_public,
		status = excluded.status,
		uploaded = excluded.uploaded,
		progress = excluded.progress,
		last_error = excluded.last_error,
		merged_at = excluded.merged_at,
		updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		record.ContentID,
		record.FileName,
		record.TotalSize,
		record.ChunkSize,
		record.OrgTag,
		record.IsPublic,
		record.Status,
		string(encoded),
		record.Progress,
		lastError,
		record.CreatedAt,
		mergedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to execute upsert: %w", err)
	}

	return tx.Commit()
}

// ListTasks returns all task records in creation order
func (s *SQLiteStore) ListTasks() ([]*TaskRecord, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM upload_tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*TaskRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// retryOnBusy retries the operation if SQLite is busy
func (s *SQLiteStore) retryOnBusy(operation func() error) error {
	maxRetries := 10
	baseDelay := 50 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		if isSQLiteBusyError(err) && attempt < maxRetries-1 {
			// Exponential backoff with a small linear jitter
			delay := baseDelay * time.Duration(1<<uint(attempt))
			jitter := time.Duration(attempt*10) * time.Millisecond
			time.Sleep(delay + jitter)
			continue
		}

		return err
	}

	return nil
}

// isSQLiteBusyError checks if the error is a SQLite busy error
func isSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	errorStr := err.Error()
	return strings.Contains(errorStr, "database is locked") ||
		strings.Contains(errorStr, "SQLITE_BUSY")
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}
