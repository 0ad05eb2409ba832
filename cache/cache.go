// Package cache provides a degradable key/value cache: a durable backend
// wrapped by a circuit breaker, with an in-process fallback store so hot
// data stays available mid-outage.
//
// The cache is a performance optimization, not a correctness dependency:
// backend errors are absorbed, and callers must treat a miss as "fetch from
// the source of truth".
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/rs/zerolog"
)

// BreakerID is the circuit identifier shared by all durable-backend calls.
const BreakerID = "cache-backend"

// BackendBreakerConfig guards the durable backend. A short window keeps the
// cache degrading fast when the backend flaps.
var BackendBreakerConfig = breaker.Config{
	FailureThreshold: 5,
	ResetTimeout:     30 * time.Second,
	SuccessThreshold: 2,
	FailureWindow:    time.Minute,
}

// ErrBackendMiss is returned by Backend.Get when the key does not exist.
var ErrBackendMiss = errors.New("cache: backend miss")

// Backend is the durable store contract. Implementations must be safe for
// concurrent use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	/* Keys lists keys matching a glob pattern
	 * Inherently more expensive than point operations; reserved for small
	 * key-spaces such as per-user invalidation
	 */
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Options tunes the in-process fallback store.
type Options struct {
	MaxEntries    int
	EvictionBatch int
}

// Cache is the degradable cache. Construct once at process start and inject
// into consumers; it owns all of its mutable state.
type Cache struct {
	backend  Backend
	breakers *breaker.Registry
	fallback *fallbackStore
	logger   zerolog.Logger
}

// New creates a degradable cache over the given backend.
func New(backend Backend, breakers *breaker.Registry, opts Options, logger zerolog.Logger) *Cache {
	return &Cache{
		backend:  backend,
		breakers: breakers,
		fallback: newFallbackStore(opts.MaxEntries, opts.EvictionBatch),
		logger:   logger.With().Str("component", "cache").Logger(),
	}
}

// Get returns the cached value for key, or ok=false when absent. The
// fallback store is consulted only when the backend call was skipped,
// failed, or missed.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	var value []byte
	found := false
	res := c.breakers.Execute(ctx, BreakerID, BackendBreakerConfig, func(ctx context.Context) error {
		v, err := c.backend.Get(ctx, key)
		if errors.Is(err, ErrBackendMiss) {
			// A miss is a healthy backend answering; it must not count
			// toward the circuit's failure threshold
			return nil
		}
		if err != nil {
			return err
		}
		value = v
		found = true
		return nil
	})

	if res.Success && found {
		return value, true
	}

	if res.Err != nil {
		c.logger.Debug().Err(res.Err).Str("key", key).Msg("backend get failed, using fallback")
	}

	return c.fallback.Get(key)
}

// Set stores the value under key with a TTL. The fallback store is written
// unconditionally so data is available even mid-outage.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.fallback.Set(key, value, ttl)

	res := c.breakers.Execute(ctx, BreakerID, BackendBreakerConfig, func(ctx context.Context) error {
		return c.backend.Set(ctx, key, value, ttl)
	})
	if res.Err != nil {
		c.logger.Debug().Err(res.Err).Str("key", key).Msg("backend set failed")
	}
}

// Del removes a key from both stores.
func (c *Cache) Del(ctx context.Context, key string) {
	c.fallback.Del(key)

	res := c.breakers.Execute(ctx, BreakerID, BackendBreakerConfig, func(ctx context.Context) error {
		return c.backend.Del(ctx, key)
	})
	if res.Err != nil {
		c.logger.Debug().Err(res.Err).Str("key", key).Msg("backend del failed")
	}
}

// DelPattern removes every key matching a glob pattern ('*' wildcard) from
// both stores.
func (c *Cache) DelPattern(ctx context.Context, pattern string) {
	c.fallback.DelPattern(pattern)

	res := c.breakers.Execute(ctx, BreakerID, BackendBreakerConfig, func(ctx context.Context) error {
		keys, err := c.backend.Keys(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}
		return c.backend.Del(ctx, keys...)
	})
	if res.Err != nil {
		c.logger.Debug().Err(res.Err).Str("pattern", pattern).Msg("backend pattern delete failed")
	}
}

/* nopBackend always misses and accepts writes
 * Selected at startup when no durable backend is configured, so call sites
 * never null-check the client
 */
type nopBackend struct{}

// NewNopBackend returns a backend that stores nothing. The cache then runs
// fallback-only.
func NewNopBackend() Backend {
	return nopBackend{}
}

func (nopBackend) Get(context.Context, string) ([]byte, error) { return nil, ErrBackendMiss }

func (nopBackend) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (nopBackend) Del(context.Context, ...string) error { return nil }

func (nopBackend) Keys(context.Context, string) ([]string, error) { return nil, nil }
