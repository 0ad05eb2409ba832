package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/webhook"
)

/* SystemCollector aggregates metrics from the breaker registry, the job
 * queue and the delivery store
 * Collection is best effort per source: one failing source fails the
 * whole Collect, callers decide how stale data they tolerate
 */
type SystemCollector struct {
	breakers   *breaker.Registry
	queue      queue.Queue
	deliveries webhook.DeliveryReader
}

// NewSystemCollector creates a collector with dependency injection
func NewSystemCollector(breakers *breaker.Registry, q queue.Queue, deliveries webhook.DeliveryReader) *SystemCollector {
	return &SystemCollector{
		breakers:   breakers,
		queue:      q,
		deliveries: deliveries,
	}
}

var _ Collector = (*SystemCollector)(nil)

// Collect gathers current metrics from every source.
func (c *SystemCollector) Collect(ctx context.Context) (Metrics, error) {
	depths, err := c.GetQueueDepths(ctx)
	if err != nil {
		return Metrics{}, err
	}

	counts, err := c.GetDeliveryCounts(ctx)
	if err != nil {
		return Metrics{}, err
	}

	return Metrics{
		Circuits:       c.GetCircuits(),
		QueueDepths:    depths,
		DeliveryCounts: counts,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// GetQueueDepths returns pending jobs per job name.
func (c *SystemCollector) GetQueueDepths(ctx context.Context) (map[string]int64, error) {
	depths, err := c.queue.Depths(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting queue depths: %w", err)
	}
	return depths, nil
}

// GetDeliveryCounts returns delivery counts by status.
func (c *SystemCollector) GetDeliveryCounts(ctx context.Context) (map[string]int64, error) {
	counts, err := c.deliveries.CountDeliveriesByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting delivery counts: %w", err)
	}
	return counts, nil
}

// GetCircuits returns a snapshot of every circuit breaker.
func (c *SystemCollector) GetCircuits() []breaker.CircuitStatus {
	return c.breakers.Snapshot()
}
