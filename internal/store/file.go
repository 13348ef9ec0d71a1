package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// FileBackend keeps one JSON file per key in a directory readable only by
// the current user.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

type fileEntry struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// NewFileBackend uses dir, defaulting to ~/.config/liveagent/sessions.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".config", "liveagent", "sessions")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	name := strings.NewReplacer(":", "_", "/", "_", string(filepath.Separator), "_").Replace(key)
	return filepath.Join(f.dir, name+".json")
}

// Get returns the value at key unless it has expired.
func (f *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, liveagent.ErrRecordNotFound
		}
		return nil, err
	}

	var entry fileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, err
	}
	if expired(entry.ExpiresAt) {
		os.Remove(f.path(key))
		return nil, liveagent.ErrRecordNotFound
	}
	return entry.Value, nil
}

// Set writes value at key, replacing the file atomically.
func (f *FileBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data, err := json.Marshal(fileEntry{Value: value, ExpiresAt: expiresAt(ttl)})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".record-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path(key))
}

// Delete removes key.
func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Ping checks that the directory is still usable.
func (f *FileBackend) Ping(context.Context) error {
	info, err := os.Stat(f.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("session store path is not a directory")
	}
	return nil
}

func (f *FileBackend) Close() error { return nil }
