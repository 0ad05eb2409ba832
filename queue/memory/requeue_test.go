package memory

import (
	"context"
	"testing"
	"time"

	"github.com/finbooks/resilience/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnackedJobsComeBack(t *testing.T) {
	ctx := context.Background()

	q := NewQueue(zerolog.Nop())
	q.visibility = 200 * time.Millisecond

	job, err := queue.NewDispatchJob(queue.DispatchPayload{UserID: "user-1", Event: "invoice.paid"})
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(ctx, job))

	jobs, err := q.Consume(ctx, []string{queue.JobWebhookDispatch})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	firstReceipt := jobs[0].Receipt

	// Within the visibility window the job stays invisible
	again, err := q.Consume(ctx, []string{queue.JobWebhookDispatch})
	require.NoError(t, err)
	assert.Empty(t, again)

	time.Sleep(150 * time.Millisecond)

	again, err = q.Consume(ctx, []string{queue.JobWebhookDispatch})
	require.NoError(t, err)
	require.Len(t, again, 1, "unacked jobs must be redelivered")
	assert.NotEqual(t, firstReceipt, again[0].Receipt)

	// The stale receipt died with the requeue
	assert.Error(t, q.Ack(ctx, jobs[0]))
	require.NoError(t, q.Ack(ctx, again[0]))
}
