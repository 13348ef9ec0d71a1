package liveagent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSessionStore(t *testing.T, backend Backend) (*SessionStore, *time.Time) {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionStore(backend, SessionKey("visitor-1"), 0, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s, &now
}

func TestSessionStoreSaveAndLoad(t *testing.T) {
	s, now := newTestSessionStore(t, NewMemoryBackend())
	ctx := context.Background()

	s.Save(ctx, Record{SessionID: "abc", Status: StatusActive, LastMessageID: 9})

	rec, ok := s.Load(ctx)
	if !ok {
		t.Fatal("expected stored record")
	}
	if rec.SessionID != "abc" || rec.Status != StatusActive || rec.LastMessageID != 9 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Timestamp != now.UnixMilli() {
		t.Fatalf("timestamp = %d, want %d", rec.Timestamp, now.UnixMilli())
	}
}

func TestSessionStoreOverwrites(t *testing.T) {
	s, _ := newTestSessionStore(t, NewMemoryBackend())
	ctx := context.Background()

	s.Save(ctx, Record{SessionID: "abc", Status: StatusPending})
	s.Save(ctx, Record{SessionID: "abc", Status: StatusActive, LastMessageID: 4})

	rec, ok := s.Load(ctx)
	if !ok || rec.Status != StatusActive || rec.LastMessageID != 4 {
		t.Fatalf("expected overwritten record, got %+v (ok=%v)", rec, ok)
	}
}

func TestSessionStoreExpiresAfter24Hours(t *testing.T) {
	backend := NewMemoryBackend()
	s, now := newTestSessionStore(t, backend)
	ctx := context.Background()

	s.Save(ctx, Record{SessionID: "abc", Status: StatusActive})

	*now = now.Add(23 * time.Hour)
	if _, ok := s.Load(ctx); !ok {
		t.Fatal("record younger than 24h should load")
	}

	*now = now.Add(time.Hour)
	if _, ok := s.Load(ctx); ok {
		t.Fatal("record 24h old should be discarded")
	}
	if _, err := backend.Get(ctx, SessionKey("visitor-1")); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expired record should be removed, got err=%v", err)
	}
}

func TestSessionStoreClear(t *testing.T) {
	s, _ := newTestSessionStore(t, NewMemoryBackend())
	ctx := context.Background()

	s.Save(ctx, Record{SessionID: "abc", Status: StatusPending})
	s.Clear(ctx)
	s.Clear(ctx)

	if _, ok := s.Load(ctx); ok {
		t.Fatal("expected no record after Clear")
	}
}

func TestSessionStoreDropsUnreadableRecord(t *testing.T) {
	backend := NewMemoryBackend()
	s, _ := newTestSessionStore(t, backend)
	ctx := context.Background()

	backend.Set(ctx, SessionKey("visitor-1"), []byte("{not json"), 0)

	if _, ok := s.Load(ctx); ok {
		t.Fatal("unreadable record should be treated as absent")
	}
	if _, err := backend.Get(ctx, SessionKey("visitor-1")); !errors.Is(err, ErrRecordNotFound) {
		t.Fatal("unreadable record should be removed")
	}
}

// brokenBackend fails every operation, like disabled or full storage.
type brokenBackend struct{}

var errStorageDisabled = errors.New("storage disabled")

func (brokenBackend) Get(context.Context, string) ([]byte, error) { return nil, errStorageDisabled }
func (brokenBackend) Set(context.Context, string, []byte, time.Duration) error {
	return errStorageDisabled
}
func (brokenBackend) Delete(context.Context, string) error { return errStorageDisabled }
func (brokenBackend) Ping(context.Context) error           { return errStorageDisabled }
func (brokenBackend) Close() error                         { return nil }

func TestSessionStoreSwallowsBackendErrors(t *testing.T) {
	s, _ := newTestSessionStore(t, brokenBackend{})
	ctx := context.Background()

	s.Save(ctx, Record{SessionID: "abc", Status: StatusActive})
	s.Clear(ctx)
	if _, ok := s.Load(ctx); ok {
		t.Fatal("failing storage should read as no session")
	}
}
