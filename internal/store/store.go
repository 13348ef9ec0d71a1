package store

import (
	"context"
	"fmt"
	"time"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// Backend names accepted by Open.
const (
	KindMemory   = "memory"
	KindFile     = "file"
	KindRedis    = "redis"
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"
)

// Options selects and configures a record backend.
type Options struct {
	Kind        string
	Path        string // file directory or SQLite database path
	RedisURL    string
	DatabaseURL string

	// EncryptionKey, when set, seals every value with SealedBackend.
	EncryptionKey string
}

// Open connects the configured backend. Every backend it returns implements
// liveagent.Backend.
func Open(ctx context.Context, opts Options) (liveagent.Backend, error) {
	backend, err := open(ctx, opts)
	if err != nil || opts.EncryptionKey == "" {
		return backend, err
	}

	sealed, err := NewSealedBackend(backend, opts.EncryptionKey)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return sealed, nil
}

func open(ctx context.Context, opts Options) (liveagent.Backend, error) {
	switch opts.Kind {
	case "", KindFile:
		return NewFileBackend(opts.Path)
	case KindMemory:
		return liveagent.NewMemoryBackend(), nil
	case KindRedis:
		return NewRedisBackend(ctx, opts.RedisURL)
	case KindSQLite:
		return NewSQLiteBackend(ctx, opts.Path)
	case KindPostgres:
		return NewPostgresBackend(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Kind)
	}
}

// expiresAt converts a TTL into an absolute deadline in Unix milliseconds.
// Zero means no expiry.
func expiresAt(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

func expired(deadline int64) bool {
	return deadline > 0 && time.Now().UnixMilli() >= deadline
}
