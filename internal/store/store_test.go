package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// exerciseBackend runs the behaviour every backend must share.
func exerciseBackend(t *testing.T, b liveagent.Backend) {
	t.Helper()
	ctx := context.Background()
	key := liveagent.SessionKey("3f0c8a4e-visitor")

	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	if _, err := b.Get(ctx, key); !errors.Is(err, liveagent.ErrRecordNotFound) {
		t.Fatalf("Get on empty backend = %v, want ErrRecordNotFound", err)
	}

	if err := b.Set(ctx, key, []byte(`{"sessionId":"1"}`), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, key, []byte(`{"sessionId":"2"}`), time.Hour); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	got, err := b.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"sessionId":"2"}` {
		t.Fatalf("Get = %s, want overwritten value", got)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Delete missing key: %v", err)
	}
	if _, err := b.Get(ctx, key); !errors.Is(err, liveagent.ErrRecordNotFound) {
		t.Fatalf("Get after Delete = %v, want ErrRecordNotFound", err)
	}

	// The backend can sit behind a SessionStore.
	s := liveagent.NewSessionStore(b, key, 0, zerolog.Nop())
	s.Save(ctx, liveagent.Record{SessionID: "abc", Status: liveagent.StatusActive, LastMessageID: 5})
	rec, ok := s.Load(ctx)
	if !ok || rec.SessionID != "abc" || rec.LastMessageID != 5 {
		t.Fatalf("SessionStore round trip = %+v (ok=%v)", rec, ok)
	}
}

func newTestSQLite(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "liveagent.db"))
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackend(t *testing.T) {
	exerciseBackend(t, newTestSQLite(t))
}

func TestSQLiteBackendExpiry(t *testing.T) {
	b := newTestSQLite(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := b.Get(ctx, "k"); !errors.Is(err, liveagent.ErrRecordNotFound) {
		t.Fatalf("expired Get = %v, want ErrRecordNotFound", err)
	}
}

func TestSQLiteBackendPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "liveagent.db")
	ctx := context.Background()

	b, err := NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend: %v", err)
	}
	if err := b.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b.Close()

	b, err = NewSQLiteBackend(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	got, err := b.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	exerciseBackend(t, b)
}

func TestRedisBackendExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	if err := b.Set(ctx, "k", []byte("v"), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL("k"); ttl != time.Hour {
		t.Fatalf("TTL = %v, want 1h", ttl)
	}
	mr.FastForward(time.Hour)
	if _, err := b.Get(ctx, "k"); !errors.Is(err, liveagent.ErrRecordNotFound) {
		t.Fatalf("expired Get = %v, want ErrRecordNotFound", err)
	}
}

func TestRedisBackendUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedisBackend(context.Background(), "redis://"+addr); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestPostgresBackend(t *testing.T) {
	url := os.Getenv("LIVEAGENT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("LIVEAGENT_TEST_DATABASE_URL not set")
	}
	b, err := NewPostgresBackend(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgresBackend: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	exerciseBackend(t, b)
}

func TestFileBackend(t *testing.T) {
	b, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	exerciseBackend(t, b)
}

func TestFileBackendPermissionsAndExpiry(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()
	key := liveagent.SessionKey("v1")

	if err := b.Set(ctx, key, []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	info, err := os.Stat(b.path(key))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Fatalf("record permissions = %o, want 600", perm)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := b.Get(ctx, key); !errors.Is(err, liveagent.ErrRecordNotFound) {
		t.Fatalf("expired Get = %v, want ErrRecordNotFound", err)
	}
	if _, err := os.Stat(b.path(key)); !os.IsNotExist(err) {
		t.Fatal("expired record file should be removed")
	}
}

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Options{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := b.(*liveagent.MemoryBackend); !ok {
		t.Fatalf("memory backend type = %T", b)
	}

	b, err = Open(ctx, Options{Kind: KindSQLite, Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer b.Close()
	if _, ok := b.(*SQLiteBackend); !ok {
		t.Fatalf("sqlite backend type = %T", b)
	}

	if _, err := Open(ctx, Options{Kind: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
