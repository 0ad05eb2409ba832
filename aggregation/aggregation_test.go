package aggregation_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finbooks/resilience/aggregation"
	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/cache"
	cacheredis "github.com/finbooks/resilience/cache/redis"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/webhook"
	webhookredis "github.com/finbooks/resilience/webhook/redis"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMonthly(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := webhookredis.NewRepository(mr.Addr(), "", 0)
	require.NoError(t, repo.Ping(ctx))
	t.Cleanup(func() { repo.Close(ctx) })

	breakers := breaker.NewRegistry(zerolog.Nop())
	c := cache.New(cacheredis.NewBackend(client), breakers, cache.Options{}, zerolog.Nop())
	svc := aggregation.NewService(c, repo, zerolog.Nop())

	// One successful delivery on record
	now := time.Now()
	require.NoError(t, repo.StoreDelivery(ctx, webhook.Delivery{
		ID:        uuid.New().String(),
		WebhookID: "wh-1",
		UserID:    "user-1",
		EventID:   uuid.New().String(),
		EventType: "invoice.paid",
		Payload:   []byte(`{}`),
		Status:    webhook.Success,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	// A stale dashboard entry that must be invalidated
	staleKey := cache.Key(cache.KeyDashboardStats, "user-1", "summary")
	c.Set(ctx, staleKey, []byte(`{"stale":true}`), time.Minute)

	require.NoError(t, svc.UpdateMonthly(ctx, queue.UpdateMonthlyPayload{
		UserID: "user-1",
		Year:   2026,
		Month:  8,
	}))

	t.Run("caches the recomputed summary", func(t *testing.T) {
		summary, ok := svc.Summary(ctx, "user-1", 2026, 8)
		require.True(t, ok)
		assert.Equal(t, "user-1", summary.UserID)
		assert.Equal(t, int64(1), summary.DeliveryCounts["success"])
		assert.False(t, summary.ComputedAt.IsZero())
	})

	t.Run("invalidates stale dashboard entries", func(t *testing.T) {
		_, ok := c.Get(ctx, staleKey)
		assert.False(t, ok)
	})
}
