package breaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold: 3,
		ResetTimeout:     50 * time.Millisecond,
		SuccessThreshold: 2,
	}
}

func TestCanExecute(t *testing.T) {
	t.Run("closed circuit allows calls", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())

		d := r.CanExecute("dep", testConfig())

		assert.True(t, d.Allowed)
		assert.Equal(t, breaker.Closed, d.State)
	})

	t.Run("opens after exactly threshold failures", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		r.RecordFailure("dep", cfg)
		r.RecordFailure("dep", cfg)
		d := r.CanExecute("dep", cfg)
		require.True(t, d.Allowed, "two failures must not open a threshold-3 circuit")

		r.RecordFailure("dep", cfg)
		d = r.CanExecute("dep", cfg)

		assert.False(t, d.Allowed)
		assert.Equal(t, breaker.Open, d.State)
	})

	t.Run("success resets the failure count while closed", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		r.RecordFailure("dep", cfg)
		r.RecordFailure("dep", cfg)
		r.RecordSuccess("dep", cfg)
		r.RecordFailure("dep", cfg)
		r.RecordFailure("dep", cfg)

		d := r.CanExecute("dep", cfg)
		assert.True(t, d.Allowed)
	})

	t.Run("independent identifiers do not share state", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		for i := 0; i < cfg.FailureThreshold; i++ {
			r.RecordFailure("dep-a", cfg)
		}

		assert.False(t, r.CanExecute("dep-a", cfg).Allowed)
		assert.True(t, r.CanExecute("dep-b", cfg).Allowed)
	})
}

func TestHalfOpen(t *testing.T) {
	t.Run("half-opens after reset timeout", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		for i := 0; i < cfg.FailureThreshold; i++ {
			r.RecordFailure("dep", cfg)
		}
		require.False(t, r.CanExecute("dep", cfg).Allowed)

		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)

		d := r.CanExecute("dep", cfg)
		assert.True(t, d.Allowed)
		assert.Equal(t, breaker.HalfOpen, d.State)
	})

	t.Run("failure during half-open re-opens immediately", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		for i := 0; i < cfg.FailureThreshold; i++ {
			r.RecordFailure("dep", cfg)
		}
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
		require.Equal(t, breaker.HalfOpen, r.CanExecute("dep", cfg).State)

		r.RecordFailure("dep", cfg)

		d := r.CanExecute("dep", cfg)
		assert.False(t, d.Allowed)
		assert.Equal(t, breaker.Open, d.State)
	})

	t.Run("closes after success threshold", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()

		for i := 0; i < cfg.FailureThreshold; i++ {
			r.RecordFailure("dep", cfg)
		}
		time.Sleep(cfg.ResetTimeout + 10*time.Millisecond)
		require.True(t, r.CanExecute("dep", cfg).Allowed)

		r.RecordSuccess("dep", cfg)
		require.Equal(t, breaker.HalfOpen, r.CanExecute("dep", cfg).State)

		r.RecordSuccess("dep", cfg)

		d := r.CanExecute("dep", cfg)
		assert.True(t, d.Allowed)
		assert.Equal(t, breaker.Closed, d.State)

		// Failure history must be cleared on recovery
		r.RecordFailure("dep", cfg)
		r.RecordFailure("dep", cfg)
		assert.True(t, r.CanExecute("dep", cfg).Allowed)
	})
}

func TestFailureWindow(t *testing.T) {
	t.Run("failures outside the window are not counted", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := breaker.Config{
			FailureThreshold: 3,
			ResetTimeout:     time.Minute,
			SuccessThreshold: 2,
			FailureWindow:    30 * time.Millisecond,
		}

		r.RecordFailure("dep", cfg)
		r.RecordFailure("dep", cfg)
		time.Sleep(50 * time.Millisecond)
		r.RecordFailure("dep", cfg)

		d := r.CanExecute("dep", cfg)
		assert.True(t, d.Allowed, "stale failures must be pruned before counting")
	})
}

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("success is tagged", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())

		res := r.Execute(ctx, "dep", testConfig(), func(context.Context) error {
			return nil
		})

		assert.True(t, res.Success)
		assert.False(t, res.CircuitOpen)
		assert.NoError(t, res.Err)
	})

	t.Run("dependency failure is distinguished from circuit-open", func(t *testing.T) {
		r := breaker.NewRegistry(zerolog.Nop())
		cfg := testConfig()
		boom := errors.New("connection refused")

		var res breaker.Result
		for i := 0; i < cfg.FailureThreshold; i++ {
			res = r.Execute(ctx, "dep", cfg, func(context.Context) error {
				return boom
			})
			require.False(t, res.Success)
			require.False(t, res.CircuitOpen)
			require.ErrorIs(t, res.Err, boom)
		}

		// The circuit is now open: fn must not run at all
		called := false
		res = r.Execute(ctx, "dep", cfg, func(context.Context) error {
			called = true
			return nil
		})

		assert.False(t, called)
		assert.True(t, res.CircuitOpen)
		assert.NoError(t, res.Err)
	})
}

func TestSnapshot(t *testing.T) {
	r := breaker.NewRegistry(zerolog.Nop())
	cfg := testConfig()

	r.RecordFailure("webhook:b", cfg)
	r.CanExecute("cache-backend", cfg)

	statuses := r.Snapshot()

	require.Len(t, statuses, 2)
	assert.Equal(t, "cache-backend", statuses[0].ID)
	assert.Equal(t, "CLOSED", statuses[0].State)
	assert.Equal(t, "webhook:b", statuses[1].ID)
	assert.Equal(t, 1, statuses[1].Failures)
}

func TestConcurrentAccess(t *testing.T) {
	r := breaker.NewRegistry(zerolog.Nop())
	cfg := testConfig()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CanExecute("shared", cfg)
			r.RecordFailure("shared", cfg)
			r.RecordSuccess("shared", cfg)
		}()
	}
	wg.Wait()

	// No race or panic; the circuit ends in a coherent state
	d := r.CanExecute("shared", cfg)
	assert.NotZero(t, d.State)
}
