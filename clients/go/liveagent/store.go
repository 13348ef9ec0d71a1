package liveagent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/internal/metrics"
)

// DefaultSessionTTL is how long a persisted session record stays usable.
const DefaultSessionTTL = 24 * time.Hour

// Backend is durable key/value storage for session records.
// Get returns ErrRecordNotFound when the key holds no value.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// SessionKey returns the storage key for a visitor's session record.
func SessionKey(visitorID string) string {
	return "liveagent:session:" + visitorID
}

// SessionStore persists the current session record.
//
// Storage failures never reach the caller: the record can always be
// rediscovered from the server, so a failing backend degrades to "no session".
type SessionStore struct {
	backend Backend
	key     string
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewSessionStore creates a store for key on the given backend.
func NewSessionStore(backend Backend, key string, ttl time.Duration, logger zerolog.Logger) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		backend: backend,
		key:     key,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Backend returns the underlying storage.
func (s *SessionStore) Backend() Backend {
	return s.backend
}

// Save stamps the record with the current time and overwrites any prior one.
func (s *SessionStore) Save(ctx context.Context, rec Record) {
	rec.Timestamp = s.now().UnixMilli()

	data, err := json.Marshal(rec)
	if err != nil {
		s.fail("save", err)
		return
	}
	if err := s.backend.Set(ctx, s.key, data, s.ttl); err != nil {
		s.fail("save", err)
	}
}

// Load returns the stored record if one exists and has not expired.
// Expired or unreadable records are removed.
func (s *SessionStore) Load(ctx context.Context) (Record, bool) {
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			s.fail("load", err)
		}
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec.SessionID == "" {
		s.logger.Warn().Str("key", s.key).Msg("discarding unreadable session record")
		s.Clear(ctx)
		return Record{}, false
	}

	age := s.now().Sub(time.UnixMilli(rec.Timestamp))
	if age >= s.ttl || age < 0 {
		s.logger.Debug().Str("session_id", string(rec.SessionID)).Dur("age", age).Msg("session record expired")
		s.Clear(ctx)
		return Record{}, false
	}

	return rec, true
}

// Clear removes the record unconditionally.
func (s *SessionStore) Clear(ctx context.Context) {
	if err := s.backend.Delete(ctx, s.key); err != nil && !errors.Is(err, ErrRecordNotFound) {
		s.fail("clear", err)
	}
}

func (s *SessionStore) fail(op string, err error) {
	metrics.StoreErrors.WithLabelValues(op).Inc()
	s.logger.Warn().Err(err).Str("op", op).Str("key", s.key).Msg("session store unavailable")
}

// MemoryBackend keeps records in process memory.
type MemoryBackend struct {
	mu      sync.Mutex
	values  map[string][]byte
	expires map[string]time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:  make(map[string][]byte),
		expires: make(map[string]time.Time),
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.values[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if exp, ok := m.expires[key]; ok && time.Now().After(exp) {
		delete(m.values, key)
		delete(m.expires, key)
		return nil, ErrRecordNotFound
	}
	copied := make([]byte, len(v))
	copy(copied, v)
	return copied, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]byte, len(value))
	copy(copied, value)
	m.values[key] = copied
	if ttl > 0 {
		m.expires[key] = time.Now().Add(ttl)
	} else {
		delete(m.expires, key)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }
