package queue

import (
	"context"
	"encoding/json"
)

// Queue is the durable job substrate. Implementations guarantee
// at-least-once execution: a job that is consumed but never acked comes
// back on a later Consume.
type Queue interface {
	// Enqueue schedules a job. A job whose Key was already claimed within
	// the dedup horizon is dropped silently.
	Enqueue(ctx context.Context, job Job) error

	// Consume returns the next batch of due jobs for the given names,
	// blocking briefly when none are ready. The returned jobs carry
	// receipts for Ack and Reject.
	Consume(ctx context.Context, names []string) ([]Job, error)

	// Ack marks a consumed job as done.
	Ack(ctx context.Context, job Job) error

	// Reject acks the job and records it on the dead letter stream with
	// the given reason. Rejected jobs are never redelivered.
	Reject(ctx context.Context, job Job, reason string) error

	// Depths reports the number of pending jobs per job name, including
	// scheduled jobs that are not yet due.
	Depths(ctx context.Context) (map[string]int64, error)

	// Close releases the queue's resources.
	Close() error
}

// DeadLetter is a rejected job preserved for inspection.
type DeadLetter struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Payload  json.RawMessage `json:"payload"`
	Key      string          `json:"key,omitempty"`
	Reason   string          `json:"reason"`
	FailedAt string          `json:"failedAt"`
}

// DeadLetterReader is implemented by queues that expose their dead letter
// stream for inspection.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, count int64) ([]DeadLetter, error)
}
