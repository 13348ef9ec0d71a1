package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// SQLiteBackend keeps session records in a local SQLite database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens the database at dbPath, creating it if needed.
// If dbPath is empty, defaults to "./data/liveagent.db"
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	if dbPath == "" {
		dbPath = "./data/liveagent.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteBackend{db: db}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates the records table and drops rows that already expired.
func (s *SQLiteBackend) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_records_expires ON session_records(expires_at);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM session_records WHERE expires_at > 0 AND expires_at <= ?
	`, time.Now().UnixMilli())
	return err
}

// Close closes the database connection.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get returns the value at key unless it has expired.
func (s *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var deadline int64
	err := s.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM session_records WHERE key = ?
	`, key).Scan(&value, &deadline)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, liveagent.ErrRecordNotFound
		}
		return nil, err
	}

	if expired(deadline) {
		if err := s.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, liveagent.ErrRecordNotFound
	}
	return value, nil
}

// Set upserts value at key.
func (s *SQLiteBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_records (key, value, expires_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, key, value, expiresAt(ttl), time.Now())
	return err
}

// Delete removes key.
func (s *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_records WHERE key = ?`, key)
	return err
}
