// Package memory implements the job queue in process memory. It is the
// degraded-mode substrate: jobs survive backend outages but not process
// restarts.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finbooks/resilience/queue"
	"github.com/rs/zerolog"
)

const (
	claimTTL     = 24 * time.Hour
	consumeCount = 10
	consumeWait  = 100 * time.Millisecond

	// visibilityTimeout is how long a consumed job may stay unacked before
	// it is requeued for another consumer. Keeps at-least-once delivery.
	visibilityTimeout = 30 * time.Second
)

// inflightJob tracks one consumed-but-unacked job.
type inflightJob struct {
	job        queue.Job
	consumedAt time.Time
}

// Queue is the in-process implementation of queue.Queue.
type Queue struct {
	logger     zerolog.Logger
	visibility time.Duration

	mu        sync.Mutex
	pending   map[string][]queue.Job
	scheduled []queue.Job
	inflight  map[string]inflightJob
	claims    map[string]time.Time
	dead      []queue.DeadLetter
	seq       int
	closed    bool
}

var _ queue.Queue = (*Queue)(nil)
var _ queue.DeadLetterReader = (*Queue)(nil)

// NewQueue creates an empty in-memory queue.
func NewQueue(logger zerolog.Logger) *Queue {
	return &Queue{
		logger:     logger.With().Str("component", "queue-memory").Logger(),
		visibility: visibilityTimeout,
		pending:    make(map[string][]queue.Job),
		inflight:   make(map[string]inflightJob),
		claims:     make(map[string]time.Time),
	}
}

// Enqueue schedules a job, honoring the same idempotency-key semantics as
// the durable queue.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	if job.Key != "" {
		now := time.Now()
		if expiry, ok := q.claims[job.Key]; ok && now.Before(expiry) {
			q.logger.Debug().Str("job", job.Name).Str("key", job.Key).Msg("duplicate job key, skipping")
			return nil
		}
		q.claims[job.Key] = now.Add(claimTTL)
	}

	if !job.RunAt.IsZero() && job.RunAt.After(time.Now()) {
		q.scheduled = append(q.scheduled, job)
		return nil
	}

	q.pending[job.Name] = append(q.pending[job.Name], job)
	return nil
}

// Consume returns the next batch of due jobs for the given names. When
// nothing is ready it waits briefly, then returns an empty batch.
func (q *Queue) Consume(ctx context.Context, names []string) ([]queue.Job, error) {
	jobs := q.take(names)
	if len(jobs) > 0 {
		return jobs, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(consumeWait):
	}
	return q.take(names), nil
}

func (q *Queue) take(names []string) []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteDue()
	q.requeueStale()

	var jobs []queue.Job
	for _, name := range names {
		for len(q.pending[name]) > 0 && len(jobs) < consumeCount {
			job := q.pending[name][0]
			q.pending[name] = q.pending[name][1:]

			q.seq++
			job.Receipt = fmt.Sprintf("mem-%d", q.seq)
			q.inflight[job.Receipt] = inflightJob{job: job, consumedAt: time.Now()}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

// promoteDue moves due scheduled jobs to their pending list. Caller holds
// the lock.
func (q *Queue) promoteDue() {
	now := time.Now()
	kept := q.scheduled[:0]
	for _, job := range q.scheduled {
		if job.RunAt.After(now) {
			kept = append(kept, job)
			continue
		}
		q.pending[job.Name] = append(q.pending[job.Name], job)
	}
	q.scheduled = kept
}

// requeueStale moves jobs unacked past the visibility timeout back to
// pending. Their old receipts die with the move. Caller holds the lock.
func (q *Queue) requeueStale() {
	now := time.Now()
	for receipt, inf := range q.inflight {
		if now.Sub(inf.consumedAt) < q.visibility {
			continue
		}
		delete(q.inflight, receipt)

		job := inf.job
		job.Receipt = ""
		q.pending[job.Name] = append(q.pending[job.Name], job)
		q.logger.Warn().Str("job", job.Name).Str("key", job.Key).Msg("unacked job requeued")
	}
}

// Ack marks a consumed job as done.
func (q *Queue) Ack(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[job.Receipt]; !ok {
		return fmt.Errorf("unknown receipt: %q", job.Receipt)
	}
	delete(q.inflight, job.Receipt)
	return nil
}

// Reject records the job as a dead letter and acks it.
func (q *Queue) Reject(ctx context.Context, job queue.Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[job.Receipt]; !ok {
		return fmt.Errorf("unknown receipt: %q", job.Receipt)
	}
	delete(q.inflight, job.Receipt)

	q.dead = append(q.dead, queue.DeadLetter{
		ID:       job.Receipt,
		Name:     job.Name,
		Payload:  job.Payload,
		Key:      job.Key,
		Reason:   reason,
		FailedAt: time.Now().UTC().Format(time.RFC3339),
	})
	q.logger.Warn().Str("job", job.Name).Str("key", job.Key).Str("reason", reason).Msg("job dead-lettered")
	return nil
}

// Depths reports pending jobs per name, scheduled jobs included.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depths := make(map[string]int64, len(queue.KnownJobs))
	for _, name := range queue.KnownJobs {
		depths[name] = int64(len(q.pending[name]))
	}
	for _, job := range q.scheduled {
		depths[job.Name]++
	}
	return depths, nil
}

// DeadLetters returns up to count dead letters, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, count int64) ([]queue.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := int64(len(q.dead))
	if count < n {
		n = count
	}
	letters := make([]queue.DeadLetter, n)
	copy(letters, q.dead[:n])
	return letters, nil
}

// Close rejects further enqueues. Pending jobs are dropped with the
// process.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
