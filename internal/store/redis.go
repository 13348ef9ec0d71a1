package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/liveagent/clients/go/liveagent"
)

// RedisBackend keeps session records in Redis with native key expiry.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend connects to redisURL and verifies the connection.
func NewRedisBackend(ctx context.Context, redisURL string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBackend{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisBackend) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisBackend) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the value at key.
func (s *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, liveagent.ErrRecordNotFound
		}
		return nil, err
	}
	return data, nil
}

// Set stores value at key. A zero ttl keeps the key until deleted.
func (s *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes key.
func (s *RedisBackend) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
