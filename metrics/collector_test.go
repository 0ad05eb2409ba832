package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/metrics"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/queue/memory"
	"github.com/finbooks/resilience/webhook"
	webhookredis "github.com/finbooks/resilience/webhook/redis"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemCollector(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	repo := webhookredis.NewRepository(mr.Addr(), "", 0)
	require.NoError(t, repo.Ping(ctx))
	t.Cleanup(func() { repo.Close(ctx) })

	breakers := breaker.NewRegistry(zerolog.Nop())
	q := memory.NewQueue(zerolog.Nop())
	collector := metrics.NewSystemCollector(breakers, q, repo)

	// One pending job
	job, err := queue.NewDispatchJob(queue.DispatchPayload{UserID: "user-1", Event: "invoice.paid"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job))

	// Two deliveries, one succeeded and one failed
	for _, status := range []webhook.DeliveryStatus{webhook.Success, webhook.Failed} {
		now := time.Now()
		require.NoError(t, repo.StoreDelivery(ctx, webhook.Delivery{
			ID:        uuid.New().String(),
			WebhookID: "wh-1",
			UserID:    "user-1",
			EventID:   uuid.New().String(),
			EventType: "invoice.paid",
			Payload:   []byte(`{}`),
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	// One open circuit
	cfg := webhook.WebhookBreakerConfig
	for i := 0; i < cfg.FailureThreshold; i++ {
		breakers.RecordFailure(webhook.BreakerID("wh-1"), cfg)
	}

	m, err := collector.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), m.QueueDepths[queue.JobWebhookDispatch])
	assert.Equal(t, int64(1), m.DeliveryCounts["success"])
	assert.Equal(t, int64(1), m.DeliveryCounts["failed"])
	assert.False(t, m.Timestamp.IsZero())

	require.Len(t, m.Circuits, 1)
	assert.Equal(t, webhook.BreakerID("wh-1"), m.Circuits[0].ID)
	assert.Equal(t, "OPEN", m.Circuits[0].State)
	assert.Equal(t, cfg.FailureThreshold, m.Circuits[0].Failures)
}
