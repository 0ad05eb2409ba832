// Package breaker implements per-identifier circuit breakers.
//
// A circuit breaker stops calls to a known-failing dependency until it has
// had time to recover. Every outbound dependency in the system (the cache
// backend, each webhook endpoint) is tracked under its own identifier.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the thresholds for a single circuit.
type Config struct {
	// FailureThreshold is the number of failures that opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before the next
	// call is allowed through as a half-open probe.
	ResetTimeout time.Duration

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit again.
	SuccessThreshold int

	// FailureWindow, when set, only counts failures younger than the
	// window. When zero, failures accumulate until a success resets them.
	FailureWindow time.Duration
}

// DefaultConfig returns sensible defaults for a generic dependency.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// Decision is the outcome of CanExecute.
type Decision struct {
	Allowed bool
	State   State
}

// Result is the tagged outcome of Execute. CircuitOpen distinguishes "the
// breaker refused to even try" from "the dependency was tried and failed".
type Result struct {
	Success     bool
	CircuitOpen bool
	Err         error
}

/* record holds the mutable state of one circuit
 * Mutated only under its own mutex so independent identifiers never
 * block each other
 */
type record struct {
	mu                sync.Mutex
	state             State
	failures          []time.Time
	lastFailureAt     time.Time
	halfOpenSuccesses int
}

// Registry tracks one circuit per identifier. Records are created lazily on
// first use and live for the process lifetime.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record
	logger  zerolog.Logger
}

// NewRegistry creates an empty circuit registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		records: make(map[string]*record),
		logger:  logger.With().Str("component", "breaker").Logger(),
	}
}

func (r *Registry) get(id string) *record {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		rec = &record{state: Closed}
		r.records[id] = rec
	}
	return rec
}

// CanExecute reports whether a call for the identifier may proceed.
// When the circuit is open and the reset timeout has elapsed, the call
// transitions the circuit to half-open and is itself allowed as a probe.
func (r *Registry) CanExecute(id string, cfg Config) Decision {
	cfg = cfg.withDefaults()
	rec := r.get(id)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.state {
	case Open:
		if time.Since(rec.lastFailureAt) >= cfg.ResetTimeout {
			rec.state = HalfOpen
			rec.halfOpenSuccesses = 0
			r.logger.Debug().Str("circuit", id).Msg("circuit half-open, probing")
			return Decision{Allowed: true, State: HalfOpen}
		}
		return Decision{Allowed: false, State: Open}
	case HalfOpen:
		return Decision{Allowed: true, State: HalfOpen}
	default:
		return Decision{Allowed: true, State: Closed}
	}
}

// RecordSuccess reports a successful call for the identifier.
func (r *Registry) RecordSuccess(id string, cfg Config) {
	cfg = cfg.withDefaults()
	rec := r.get(id)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	switch rec.state {
	case HalfOpen:
		rec.halfOpenSuccesses++
		if rec.halfOpenSuccesses >= cfg.SuccessThreshold {
			rec.state = Closed
			rec.failures = nil
			rec.halfOpenSuccesses = 0
			r.logger.Info().Str("circuit", id).Msg("circuit closed")
		}
	default:
		rec.failures = nil
	}
}

// RecordFailure reports a failed call for the identifier.
func (r *Registry) RecordFailure(id string, cfg Config) {
	cfg = cfg.withDefaults()
	rec := r.get(id)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	now := time.Now()
	rec.lastFailureAt = now

	switch rec.state {
	case HalfOpen:
		// A single failure during the probe phase re-opens immediately
		rec.state = Open
		rec.halfOpenSuccesses = 0
		r.logger.Warn().Str("circuit", id).Msg("probe failed, circuit re-opened")
	case Closed:
		rec.failures = append(rec.failures, now)
		if cfg.FailureWindow > 0 {
			rec.failures = pruneOlder(rec.failures, now.Add(-cfg.FailureWindow))
		}
		if len(rec.failures) >= cfg.FailureThreshold {
			rec.state = Open
			r.logger.Warn().
				Str("circuit", id).
				Int("failures", len(rec.failures)).
				Msg("circuit opened")
		}
	}
}

// Reset forces the identifier's circuit back to closed.
func (r *Registry) Reset(id string) {
	rec := r.get(id)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.state = Closed
	rec.failures = nil
	rec.halfOpenSuccesses = 0
}

// Execute wraps fn with the circuit for id. Failures never propagate as
// panics or bare errors past the wrapper; callers inspect the tagged Result.
func (r *Registry) Execute(ctx context.Context, id string, cfg Config, fn func(context.Context) error) Result {
	decision := r.CanExecute(id, cfg)
	if !decision.Allowed {
		return Result{CircuitOpen: true}
	}

	if err := fn(ctx); err != nil {
		r.RecordFailure(id, cfg)
		return Result{Err: err}
	}

	r.RecordSuccess(id, cfg)
	return Result{Success: true}
}

// pruneOlder drops timestamps at or before the cutoff. The slice is
// append-ordered, so the first retained index bounds the rest.
func pruneOlder(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return ts
	}
	return append(ts[:0], ts[idx:]...)
}
