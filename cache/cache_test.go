package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/cache"
	cacheredis "github.com/finbooks/resilience/cache/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis, *breaker.Registry) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	breakers := breaker.NewRegistry(zerolog.Nop())
	c := cache.New(cacheredis.NewBackend(client), breakers, cache.Options{}, zerolog.Nop())
	return c, mr, breakers
}

func TestCacheBackendPath(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get round-trips through the backend", func(t *testing.T) {
		c, mr, _ := newTestCache(t)

		c.Set(ctx, "dashboard:stats:user-1", []byte(`{"total":5}`), time.Minute)

		got, ok := c.Get(ctx, "dashboard:stats:user-1")
		require.True(t, ok)
		assert.Equal(t, []byte(`{"total":5}`), got)

		// The durable side holds the value too
		assert.True(t, mr.Exists("dashboard:stats:user-1"))
	})

	t.Run("backend TTL is applied", func(t *testing.T) {
		c, mr, _ := newTestCache(t)

		c.Set(ctx, "k", []byte("v"), 30*time.Second)

		mr.FastForward(time.Minute)

		// Fallback also expired by wall clock? No: FastForward only moves
		// miniredis time, so the fallback still holds the entry. The
		// backend miss falls back and still serves it, which is the
		// intended degradable behavior.
		_, ok := c.Get(ctx, "k")
		assert.True(t, ok)
		assert.False(t, mr.Exists("k"))
	})

	t.Run("misses on a healthy backend leave the circuit closed", func(t *testing.T) {
		c, _, breakers := newTestCache(t)

		for i := 0; i < cache.BackendBreakerConfig.FailureThreshold+1; i++ {
			_, ok := c.Get(ctx, fmt.Sprintf("absent-%d", i))
			assert.False(t, ok)
		}

		d := breakers.CanExecute(cache.BreakerID, cache.BackendBreakerConfig)
		assert.True(t, d.Allowed)
		assert.Equal(t, breaker.Closed, d.State, "cold-cache traffic must not open the backend circuit")
	})

	t.Run("del removes from both stores", func(t *testing.T) {
		c, mr, _ := newTestCache(t)

		c.Set(ctx, "k", []byte("v"), time.Minute)
		c.Del(ctx, "k")

		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
		assert.False(t, mr.Exists("k"))
	})

	t.Run("delPattern removes matching keys from the backend", func(t *testing.T) {
		c, mr, _ := newTestCache(t)

		c.Set(ctx, "invoices:list:user-1:a", []byte("v"), time.Minute)
		c.Set(ctx, "invoices:list:user-1:b", []byte("v"), time.Minute)
		c.Set(ctx, "invoices:list:user-2:a", []byte("v"), time.Minute)

		c.DelPattern(ctx, "invoices:list:user-1:*")

		assert.False(t, mr.Exists("invoices:list:user-1:a"))
		assert.False(t, mr.Exists("invoices:list:user-1:b"))
		assert.True(t, mr.Exists("invoices:list:user-2:a"))

		_, ok := c.Get(ctx, "invoices:list:user-1:a")
		assert.False(t, ok)
	})
}

func TestCacheDegradedMode(t *testing.T) {
	ctx := context.Background()

	t.Run("serves from fallback during a backend outage", func(t *testing.T) {
		c, mr, _ := newTestCache(t)

		mr.SetError("backend down")

		c.Set(ctx, "k", []byte("v"), time.Minute)

		got, ok := c.Get(ctx, "k")
		require.True(t, ok, "fallback must serve mid-outage")
		assert.Equal(t, []byte("v"), got)
	})

	t.Run("repeated failures open the backend circuit", func(t *testing.T) {
		c, mr, breakers := newTestCache(t)

		mr.SetError("backend down")

		for i := 0; i < cache.BackendBreakerConfig.FailureThreshold; i++ {
			c.Set(ctx, "k", []byte("v"), time.Minute)
		}

		d := breakers.CanExecute(cache.BreakerID, cache.BackendBreakerConfig)
		assert.False(t, d.Allowed)
		assert.Equal(t, breaker.Open, d.State)

		// Circuit-open reads skip the backend entirely and still succeed
		_, ok := c.Get(ctx, "k")
		assert.True(t, ok)
	})

	t.Run("fallback respects TTL while circuit is open", func(t *testing.T) {
		c, mr, breakers := newTestCache(t)

		mr.SetError("backend down")
		for i := 0; i < cache.BackendBreakerConfig.FailureThreshold; i++ {
			c.Set(ctx, "warm", []byte("v"), time.Minute)
		}
		require.False(t, breakers.CanExecute(cache.BreakerID, cache.BackendBreakerConfig).Allowed)

		c.Set(ctx, "short", []byte("v"), 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		_, ok := c.Get(ctx, "short")
		assert.False(t, ok, "expired fallback entries must not be returned")
	})

	t.Run("nop backend runs fallback-only", func(t *testing.T) {
		breakers := breaker.NewRegistry(zerolog.Nop())
		c := cache.New(cache.NewNopBackend(), breakers, cache.Options{}, zerolog.Nop())

		c.Set(ctx, "k", []byte("v"), time.Minute)

		got, ok := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), got)
	})
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "dashboard:stats:user-1", cache.Key(cache.KeyDashboardStats, "user-1"))
	assert.Equal(t, "dashboard:revenue:user-1:12", cache.Key(cache.KeyDashboardRevenue, "user-1", "12"))
	assert.Equal(t, "invoices:list:user-1:*", cache.UserPattern(cache.KeyInvoiceList, "user-1"))
}
