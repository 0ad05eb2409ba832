// Package redis implements the durable cache backend on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finbooks/resilience/cache"
	"github.com/redis/go-redis/v9"
)

type Backend struct {
	client *redis.Client
}

// NewBackend creates a Redis cache backend from an existing client.
func NewBackend(client *redis.Client) *Backend {
	return &Backend{client: client}
}

// Get retrieves a value, mapping redis.Nil to cache.ErrBackendMiss.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cache.ErrBackendMiss
	}
	if err != nil {
		return nil, fmt.Errorf("getting key %s: %w", key, err)
	}
	return value, nil
}

// Set stores a value with a TTL.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting key %s: %w", key, err)
	}
	return nil
}

// Del removes keys.
func (b *Backend) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Keys lists keys matching a glob pattern using SCAN, never KEYS, so a
// large key-space cannot stall the server.
func (b *Backend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := b.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning pattern %s: %w", pattern, err)
		}

		keys = append(keys, batch...)
		cursor = next

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

// Verify Backend satisfies the cache contract
var _ cache.Backend = (*Backend)(nil)
