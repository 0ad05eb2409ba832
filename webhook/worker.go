package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/finbooks/resilience/queue"
	"github.com/rs/zerolog"
)

// AggregationHandler recomputes a user's monthly aggregates. The worker
// routes aggregation.updateMonthly jobs here; the computation itself lives
// with the reporting code.
type AggregationHandler func(ctx context.Context, p queue.UpdateMonthlyPayload) error

/* Worker drains the job queue with a bounded pool of consumers
 * Jobs with undecodable or invalid payloads go to the dead letter stream;
 * handler errors leave the job unacked for redelivery
 */
type Worker struct {
	queue       queue.Queue
	dispatcher  *Dispatcher
	deliverer   *Deliverer
	repo        Repository
	aggregation AggregationHandler
	concurrency int
	logger      zerolog.Logger
}

// NewWorker creates a worker with dependency injection
func NewWorker(q queue.Queue, dispatcher *Dispatcher, deliverer *Deliverer, repo Repository, aggregation AggregationHandler, concurrency int, logger zerolog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		dispatcher:  dispatcher,
		deliverer:   deliverer,
		repo:        repo,
		aggregation: aggregation,
		concurrency: concurrency,
		logger:      logger.With().Str("component", "worker").Logger(),
	}
}

// Run consumes jobs until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Int("concurrency", w.concurrency).Msg("worker started")

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(ctx)
		}()
	}
	wg.Wait()

	w.logger.Info().Msg("worker stopped")
}

func (w *Worker) consume(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobs, err := w.queue.Consume(ctx, queue.KnownJobs)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error().Err(err).Msg("consuming jobs")
			continue
		}

		for _, job := range jobs {
			w.handle(ctx, job)
		}
	}
}

func (w *Worker) handle(ctx context.Context, job queue.Job) {
	var err error
	switch job.Name {
	case queue.JobWebhookDispatch:
		err = w.handleDispatch(ctx, job)
	case queue.JobWebhookDeliver:
		err = w.handleDeliver(ctx, job)
	case queue.JobAggregationUpdateMonthly:
		err = w.handleAggregation(ctx, job)
	default:
		w.reject(ctx, job, fmt.Sprintf("no handler for job %q", job.Name))
		return
	}

	if err != nil {
		// Unacked jobs come back on a later consume
		w.logger.Error().Err(err).Str("job", job.Name).Str("key", job.Key).Msg("handling job")
		return
	}

	if err := w.queue.Ack(ctx, job); err != nil {
		w.logger.Error().Err(err).Str("job", job.Name).Msg("acking job")
	}
}

func (w *Worker) handleDispatch(ctx context.Context, job queue.Job) error {
	var p queue.DispatchPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.reject(ctx, job, fmt.Sprintf("undecodable dispatch payload: %v", err))
		return nil
	}
	if err := p.Validate(); err != nil {
		w.reject(ctx, job, fmt.Sprintf("invalid dispatch payload: %v", err))
		return nil
	}

	result, err := w.dispatcher.Dispatch(ctx, p.UserID, p.Event, p.Data)
	if err != nil {
		return fmt.Errorf("dispatching %s: %w", p.Event, err)
	}

	w.logger.Info().
		Str("event_id", result.EventID).
		Str("event_type", p.Event).
		Int("webhooks", result.Total).
		Int("succeeded", result.Succeeded).
		Int("retrying", result.Retrying).
		Int("failed", result.Failed).
		Msg("event dispatched")
	return nil
}

/* handleDeliver guards against stale duplicates: a redelivered job whose
 * attempt number no longer lines up with the delivery's recorded attempts
 * has already been executed and gets acked without another HTTP call
 */
func (w *Worker) handleDeliver(ctx context.Context, job queue.Job) error {
	var p queue.DeliverPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.reject(ctx, job, fmt.Sprintf("undecodable deliver payload: %v", err))
		return nil
	}
	if err := p.Validate(); err != nil {
		w.reject(ctx, job, fmt.Sprintf("invalid deliver payload: %v", err))
		return nil
	}

	delivery, err := w.repo.GetDelivery(ctx, p.DeliveryID)
	if err != nil {
		w.reject(ctx, job, fmt.Sprintf("unknown delivery %s: %v", p.DeliveryID, err))
		return nil
	}
	if delivery.Status.IsFinal() || delivery.Attempts != p.Attempt-1 {
		w.logger.Debug().
			Str("delivery_id", p.DeliveryID).
			Int("job_attempt", p.Attempt).
			Int("delivery_attempts", delivery.Attempts).
			Msg("stale delivery job, skipping")
		return nil
	}

	if _, err := w.deliverer.Attempt(ctx, p.DeliveryID); err != nil {
		return fmt.Errorf("attempting delivery %s: %w", p.DeliveryID, err)
	}
	return nil
}

func (w *Worker) handleAggregation(ctx context.Context, job queue.Job) error {
	var p queue.UpdateMonthlyPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		w.reject(ctx, job, fmt.Sprintf("undecodable aggregation payload: %v", err))
		return nil
	}
	if err := p.Validate(); err != nil {
		w.reject(ctx, job, fmt.Sprintf("invalid aggregation payload: %v", err))
		return nil
	}

	if w.aggregation == nil {
		w.reject(ctx, job, "no aggregation handler configured")
		return nil
	}
	if err := w.aggregation(ctx, p); err != nil {
		return fmt.Errorf("updating monthly aggregates for %s: %w", p.UserID, err)
	}
	return nil
}

func (w *Worker) reject(ctx context.Context, job queue.Job, reason string) {
	if err := w.queue.Reject(ctx, job, reason); err != nil {
		w.logger.Error().Err(err).Str("job", job.Name).Msg("rejecting job")
	}
}
