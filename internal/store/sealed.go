package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

const (
	sealInfo  = "liveagent-record-v1"
	keySize   = chacha20poly1305.KeySize
	nonceSize = chacha20poly1305.NonceSize
	tagSize   = chacha20poly1305.Overhead
)

// ErrSealed is returned when a stored value cannot be opened with the
// configured secret.
var ErrSealed = errors.New("session record: wrong key or tampered value")

// SealedBackend encrypts values with ChaCha20-Poly1305 before handing them to
// the wrapped backend. The storage key is bound as associated data, so a value
// copied under another key fails to open.
type SealedBackend struct {
	liveagent.Backend
	key []byte
}

// NewSealedBackend wraps backend with a key derived from secret.
func NewSealedBackend(backend liveagent.Backend, secret string) (*SealedBackend, error) {
	if secret == "" {
		return nil, errors.New("empty encryption secret")
	}
	key, err := deriveKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &SealedBackend{Backend: backend, key: key}, nil
}

// deriveKey derives the record key using HKDF-SHA256.
func deriveKey(secret []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, secret, []byte("liveagent"), []byte(sealInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Get opens the value stored at key.
func (s *SealedBackend) Get(ctx context.Context, key string) ([]byte, error) {
	wire, err := s.Backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(wire) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSealed, len(wire))
	}

	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, wire[:nonceSize], wire[nonceSize:], []byte(key))
	if err != nil {
		return nil, ErrSealed
	}
	return plaintext, nil
}

// Set seals value and stores it at key.
func (s *SealedBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return err
	}

	nonce := make([]byte, nonceSize, nonceSize+len(value)+tagSize)
	if _, err := rand.Read(nonce); err != nil {
		return err
	}

	// Wire format: nonce[12] + ciphertext[N+16]
	wire := aead.Seal(nonce, nonce, value, []byte(key))
	return s.Backend.Set(ctx, key, wire, ttl)
}
