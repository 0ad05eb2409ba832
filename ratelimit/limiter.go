// Package ratelimit throttles inbound traffic with a sliding-window counter
// on the durable backend, degrading to a per-process fixed window when the
// backend's circuit is open.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/cache"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "ratelimit:"

// Result is the outcome of a rate-limit check. Callers use it to set the
// X-RateLimit-* response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

/* window is the in-process fallback counter for one identifier
 * A fixed window is intentionally coarser than the distributed
 * sliding-window log: documented drift, not a bug
 */
type window struct {
	count       int
	windowStart time.Time
}

// Limiter checks request rates. The durable path runs through the shared
// cache-backend circuit so an unreachable backend degrades instead of
// failing requests.
type Limiter struct {
	client   *goredis.Client
	breakers *breaker.Registry
	logger   zerolog.Logger

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a limiter. A nil client means fallback-only operation.
func New(client *goredis.Client, breakers *breaker.Registry, logger zerolog.Logger) *Limiter {
	return &Limiter{
		client:   client,
		breakers: breakers,
		logger:   logger.With().Str("component", "ratelimit").Logger(),
		windows:  make(map[string]*window),
	}
}

// Check records one request for the identifier and reports whether it fits
// within limit requests per windowSize.
func (l *Limiter) Check(ctx context.Context, identifier string, limit int, windowSize time.Duration) Result {
	if l.client != nil {
		var result Result
		res := l.breakers.Execute(ctx, cache.BreakerID, cache.BackendBreakerConfig, func(ctx context.Context) error {
			r, err := l.checkSlidingWindow(ctx, identifier, limit, windowSize)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if res.Success {
			return result
		}
		if res.Err != nil {
			l.logger.Warn().Err(res.Err).Str("identifier", identifier).Msg("backend check failed, using local window")
		}
	}

	return l.checkFixedWindow(identifier, limit, windowSize)
}

/* checkSlidingWindow implements sliding-window-by-log on a Redis sorted set
 * Prune, count, add, and expire run inside one MULTI/EXEC round-trip so
 * concurrent requests for the same identifier cannot race; the pre-insert
 * cardinality is what gets compared against the limit
 */
func (l *Limiter) checkSlidingWindow(ctx context.Context, identifier string, limit int, windowSize time.Duration) (Result, error) {
	key := keyPrefix + identifier
	now := time.Now()
	windowStart := now.Add(-windowSize)

	var countCmd *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMicro(), 10))
		countCmd = pipe.ZCard(ctx, key)
		pipe.ZAdd(ctx, key, goredis.Z{
			Score:  float64(now.UnixMicro()),
			Member: fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()),
		})
		pipe.Expire(ctx, key, windowSize+time.Second)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("sliding window check for %s: %w", identifier, err)
	}

	count := int(countCmd.Val())
	return Result{
		Allowed:   count < limit,
		Limit:     limit,
		Remaining: remaining(limit, count+1),
		ResetAt:   now.Add(windowSize),
	}, nil
}

// checkFixedWindow is the per-process degraded path.
func (l *Limiter) checkFixedWindow(identifier string, limit int, windowSize time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	w, ok := l.windows[identifier]
	if !ok || now.Sub(w.windowStart) >= windowSize {
		w = &window{count: 0, windowStart: now}
		l.windows[identifier] = w
	}

	w.count++

	return Result{
		Allowed:   w.count <= limit,
		Limit:     limit,
		Remaining: remaining(limit, w.count),
		ResetAt:   w.windowStart.Add(windowSize),
	}
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}
