package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/finbooks/resilience/breaker"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/webhook/signature"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WebhookBreakerConfig gates outbound deliveries per endpoint. An endpoint
// that fails five times within five minutes is paused for five minutes.
var WebhookBreakerConfig = breaker.Config{
	FailureThreshold: 5,
	ResetTimeout:     5 * time.Minute,
	SuccessThreshold: 2,
	FailureWindow:    5 * time.Minute,
}

const (
	requestTimeout  = 30 * time.Second
	maxResponseBody = 1000
)

// HTTPClient is the outbound transport, satisfied by *http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy controls the retry chain for one event type.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// PolicySource resolves the retry policy for an event type.
type PolicySource interface {
	ForEvent(eventType string) RetryPolicy
}

/* Deliverer executes one signed delivery attempt against one endpoint
 * Each webhook has its own circuit; a flapping endpoint gets fast-failed
 * without an HTTP call while its circuit is open, and the global throttle
 * caps outbound requests across all endpoints
 */
type Deliverer struct {
	repo     Repository
	breakers *breaker.Registry
	client   HTTPClient
	queue    queue.Queue
	policies PolicySource
	throttle *rate.Limiter
	logger   zerolog.Logger
}

// NewDeliverer creates a deliverer. A nil throttle means unthrottled.
func NewDeliverer(repo Repository, breakers *breaker.Registry, client HTTPClient, q queue.Queue, policies PolicySource, throttle *rate.Limiter, logger zerolog.Logger) *Deliverer {
	return &Deliverer{
		repo:     repo,
		breakers: breakers,
		client:   client,
		queue:    q,
		policies: policies,
		throttle: throttle,
		logger:   logger.With().Str("component", "deliverer").Logger(),
	}
}

// BreakerID returns the circuit identifier for a webhook.
func BreakerID(webhookID string) string {
	return "webhook:" + webhookID
}

/* Attempt runs one delivery attempt end to end: load, sign, POST, record
 * Terminal deliveries and deactivated webhooks are skipped without an
 * HTTP call. On failure the next attempt is scheduled with exponential
 * backoff until the chain's MaxAttempts is exhausted.
 */
func (d *Deliverer) Attempt(ctx context.Context, deliveryID string) (Delivery, error) {
	delivery, err := d.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if delivery.Status.IsFinal() {
		d.logger.Debug().Str("delivery_id", deliveryID).Str("status", delivery.Status.String()).Msg("delivery already terminal, skipping")
		return delivery, nil
	}

	wh, err := d.repo.GetWebhook(ctx, delivery.WebhookID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting webhook: %w", err)
	}
	if !wh.IsActive {
		delivery.Status = Failed
		delivery.ErrorMessage = "webhook is deactivated"
		delivery.FailedAt = time.Now()
		delivery.UpdatedAt = delivery.FailedAt
		if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
			return Delivery{}, fmt.Errorf("updating delivery: %w", err)
		}
		return delivery, nil
	}

	if d.throttle != nil {
		if err := d.throttle.Wait(ctx); err != nil {
			return Delivery{}, fmt.Errorf("waiting for delivery throttle: %w", err)
		}
	}

	var statusCode int
	var responseBody string
	var responseTime time.Duration

	res := d.breakers.Execute(ctx, BreakerID(wh.ID), WebhookBreakerConfig, func(ctx context.Context) error {
		code, body, elapsed, err := d.post(ctx, wh, delivery)
		statusCode = code
		responseBody = body
		responseTime = elapsed
		return err
	})

	delivery.Attempts++
	delivery.StatusCode = statusCode
	delivery.ResponseBody = responseBody
	delivery.ResponseTimeMs = responseTime.Milliseconds()
	delivery.UpdatedAt = time.Now()

	if res.Success {
		delivery.Status = Success
		delivery.ErrorMessage = ""
		delivery.DeliveredAt = delivery.UpdatedAt
		if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
			return Delivery{}, fmt.Errorf("updating delivery: %w", err)
		}

		d.logger.Info().
			Str("delivery_id", delivery.ID).
			Str("webhook_id", wh.ID).
			Int("status_code", statusCode).
			Int("attempt", delivery.Attempts).
			Msg("delivery succeeded")
		return delivery, nil
	}

	if res.CircuitOpen {
		delivery.ErrorMessage = "circuit open for webhook endpoint"
	} else if res.Err != nil {
		delivery.ErrorMessage = res.Err.Error()
	}

	return d.recordFailure(ctx, wh, delivery)
}

// post executes the signed HTTP request. Any non-2xx response is a failure.
func (d *Deliverer) post(ctx context.Context, wh Webhook, delivery Delivery) (int, string, time.Duration, error) {
	secret, err := signature.ParseSecret(wh.Secret)
	if err != nil {
		return 0, "", 0, fmt.Errorf("parsing webhook secret: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return 0, "", 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := signature.SetHeaders(req.Header, secret, delivery.EventID, time.Now(), delivery.Payload); err != nil {
		return 0, "", 0, fmt.Errorf("signing request: %w", err)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, "", elapsed, fmt.Errorf("posting to %s: %w", wh.URL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(body), elapsed, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(body), elapsed, nil
}

/* recordFailure decides between scheduling a retry and closing the chain
 * The retry job is keyed by delivery and attempt number, so a crashed
 * worker that already enqueued it cannot schedule a duplicate
 */
func (d *Deliverer) recordFailure(ctx context.Context, wh Webhook, delivery Delivery) (Delivery, error) {
	policy := d.policies.ForEvent(delivery.EventType)

	maxAttempts := delivery.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = policy.MaxAttempts
	}

	if delivery.Attempts >= maxAttempts {
		delivery.Status = Failed
		delivery.FailedAt = time.Now()
		delivery.NextRetryAt = time.Time{}
		if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
			return Delivery{}, fmt.Errorf("updating delivery: %w", err)
		}

		d.logger.Warn().
			Str("delivery_id", delivery.ID).
			Str("webhook_id", wh.ID).
			Int("attempts", delivery.Attempts).
			Str("error", delivery.ErrorMessage).
			Msg("delivery failed permanently")
		return delivery, nil
	}

	delay := Backoff(policy, delivery.Attempts)
	delivery.Status = Retrying
	delivery.NextRetryAt = time.Now().Add(delay)
	if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
		return Delivery{}, fmt.Errorf("updating delivery: %w", err)
	}

	job, err := queue.NewDeliverJob(queue.DeliverPayload{
		DeliveryID: delivery.ID,
		WebhookID:  delivery.WebhookID,
		UserID:     delivery.UserID,
		Attempt:    delivery.Attempts + 1,
	}, delivery.NextRetryAt)
	if err != nil {
		return Delivery{}, fmt.Errorf("building retry job: %w", err)
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return Delivery{}, fmt.Errorf("scheduling retry: %w", err)
	}

	d.logger.Warn().
		Str("delivery_id", delivery.ID).
		Str("webhook_id", wh.ID).
		Int("attempt", delivery.Attempts).
		Dur("retry_in", delay).
		Str("error", delivery.ErrorMessage).
		Msg("delivery failed, retry scheduled")
	return delivery, nil
}

// ErrNotResendable reports a resend against a delivery that has not
// terminally failed.
var ErrNotResendable = errors.New("only failed deliveries can be resent")

/* Resend manually re-queues a terminally failed delivery: support can
 * replay a dead chain after the receiving endpoint is fixed
 * Successful deliveries are immutable and pending/retrying ones already
 * have a live attempt chain, so only status=failed qualifies
 */
func (d *Deliverer) Resend(ctx context.Context, deliveryID string) (Delivery, error) {
	delivery, err := d.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if delivery.Status != Failed {
		return Delivery{}, fmt.Errorf("resending delivery %s with status %s: %w", deliveryID, delivery.Status, ErrNotResendable)
	}

	delivery.Status = Retrying
	delivery.NextRetryAt = time.Now()
	delivery.FailedAt = time.Time{}
	delivery.UpdatedAt = time.Now()
	if err := d.repo.UpdateDelivery(ctx, delivery); err != nil {
		return Delivery{}, fmt.Errorf("updating delivery: %w", err)
	}

	job, err := queue.NewDeliverJob(queue.DeliverPayload{
		DeliveryID: delivery.ID,
		WebhookID:  delivery.WebhookID,
		UserID:     delivery.UserID,
		Attempt:    delivery.Attempts + 1,
	}, time.Time{})
	if err != nil {
		return Delivery{}, fmt.Errorf("building resend job: %w", err)
	}
	if err := d.queue.Enqueue(ctx, job); err != nil {
		return Delivery{}, fmt.Errorf("queueing resend: %w", err)
	}

	d.logger.Info().Str("delivery_id", delivery.ID).Int("attempt", delivery.Attempts+1).Msg("delivery resend queued")
	return delivery, nil
}

// Backoff returns the delay before the attempt following the given one:
// base * 2^(attempts-1), capped at the policy's maximum.
func Backoff(policy RetryPolicy, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := policy.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}
