package metrics

import (
	"context"
	"time"

	"github.com/finbooks/resilience/breaker"
)

// Metrics represents the current operational state of the delivery system.
type Metrics struct {
	// Circuits lists every circuit breaker with its state and failure count
	Circuits []breaker.CircuitStatus `json:"circuits"`

	// QueueDepths maps job name to the number of pending jobs
	QueueDepths map[string]int64 `json:"queue_depths"`

	// DeliveryCounts maps delivery status to count
	DeliveryCounts map[string]int64 `json:"delivery_counts"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// Collector defines the interface for collecting operational metrics.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetQueueDepths returns the number of pending jobs per job name
	GetQueueDepths(ctx context.Context) (map[string]int64, error)

	// GetDeliveryCounts returns the count of deliveries by status
	GetDeliveryCounts(ctx context.Context) (map[string]int64, error)

	// GetCircuits returns a snapshot of every circuit breaker
	GetCircuits() []breaker.CircuitStatus
}
