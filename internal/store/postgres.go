package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// PostgresBackend keeps session records in PostgreSQL, for kiosks and
// embedded clients that share one database.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend creates a connection pool and ensures the schema exists.
func NewPostgresBackend(ctx context.Context, databaseURL string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &PostgresBackend{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresBackend) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS session_records (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `DELETE FROM session_records WHERE expires_at <= NOW()`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresBackend) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *PostgresBackend) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Get returns the value at key unless it has expired.
func (s *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM session_records
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, liveagent.ErrRecordNotFound
		}
		return nil, err
	}
	return value, nil
}

// Set upserts value at key.
func (s *PostgresBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var deadline *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		deadline = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_records (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, key, value, deadline)
	return err
}

// Delete removes key.
func (s *PostgresBackend) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM session_records WHERE key = $1`, key)
	return err
}
