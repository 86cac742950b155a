// Package rediskv implements the shared KV port on Redis. It backs dedup
// keys, stream cursors, rate-limit counters and router state snapshots.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a Redis client behind the domain.KV port. All writes are
// last-writer-wins; TTL zero means no expiry.
type Store struct {
	rdb *redis.Client
}

// New constructs a Store over an existing client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Get returns the value and whether the key exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("op=kv.Get key=%s: %w", key, err)
	}
	return v, true, nil
}

// Set writes the key with an optional TTL.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("op=kv.Set key=%s: %w", key, err)
	}
	return nil
}

// SetNX sets the key only when absent and reports whether it was set.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("op=kv.SetNX key=%s: %w", key, err)
	}
	return ok, nil
}

// Incr increments the counter stored at key, creating it at 1.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("op=kv.Incr key=%s: %w", key, err)
	}
	return n, nil
}

// IncrBy adds n to the counter stored at key.
func (s *Store) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	v, err := s.rdb.IncrBy(ctx, key, n).Result()
	if err != nil {
		return 0, fmt.Errorf("op=kv.IncrBy key=%s: %w", key, err)
	}
	return v, nil
}

// Expire attaches a TTL to an existing key.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("op=kv.Expire key=%s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("op=kv.Exists key=%s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes the key. Deleting a missing key is not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("op=kv.Del key=%s: %w", key, err)
	}
	return nil
}

// Keys lists keys matching pattern. Admin/inspection surfaces only.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("op=kv.Keys pattern=%s: %w", pattern, err)
	}
	return keys, nil
}
