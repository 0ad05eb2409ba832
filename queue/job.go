// Package queue defines the durable job contracts honored by the queue
// substrate: at-least-once execution, delayed scheduling, and per-job
// idempotency keys.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job names handled by the worker.
const (
	JobWebhookDispatch          = "webhook.dispatch"
	JobWebhookDeliver           = "webhook.deliver"
	JobAggregationUpdateMonthly = "aggregation.updateMonthly"
)

// KnownJobs lists every job name, used for queue-depth reporting.
var KnownJobs = []string{
	JobWebhookDispatch,
	JobWebhookDeliver,
	JobAggregationUpdateMonthly,
}

/* Job is one unit of queued work
 * Payload is the JSON encoding of the job's tagged payload struct,
 * validated again at the consumer boundary
 */
type Job struct {
	// Name selects the payload shape and the handler
	Name string `json:"name"`

	// Payload is the JSON-encoded payload for Name
	Payload json.RawMessage `json:"payload"`

	// Key, when set, collapses duplicate scheduling: at most one job per
	// key is enqueued within the dedup horizon
	Key string `json:"key,omitempty"`

	// RunAt delays execution; zero means run as soon as possible
	RunAt time.Time `json:"run_at,omitempty"`

	// Receipt is an opaque acknowledgment handle set by the queue on
	// Consume. Never set by producers.
	Receipt string `json:"-"`
}

// DispatchPayload is the payload of a webhook.dispatch job.
type DispatchPayload struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

// Validate checks required fields at the queue boundary.
func (p DispatchPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if p.Event == "" {
		return fmt.Errorf("event is required")
	}
	return nil
}

// DeliverPayload is the payload of a webhook.deliver job.
type DeliverPayload struct {
	DeliveryID string `json:"deliveryId"`
	WebhookID  string `json:"webhookId"`
	UserID     string `json:"userId"`
	Attempt    int    `json:"attempt"`
}

// Validate checks required fields at the queue boundary.
func (p DeliverPayload) Validate() error {
	if p.DeliveryID == "" {
		return fmt.Errorf("deliveryId is required")
	}
	if p.WebhookID == "" {
		return fmt.Errorf("webhookId is required")
	}
	if p.Attempt < 0 {
		return fmt.Errorf("attempt cannot be negative")
	}
	return nil
}

// UpdateMonthlyPayload is the payload of an aggregation.updateMonthly job.
type UpdateMonthlyPayload struct {
	UserID string `json:"userId"`
	Year   int    `json:"year"`
	Month  int    `json:"month"`
}

// Validate checks required fields at the queue boundary.
func (p UpdateMonthlyPayload) Validate() error {
	if p.UserID == "" {
		return fmt.Errorf("userId is required")
	}
	if p.Year < 2000 || p.Year > 2200 {
		return fmt.Errorf("year out of range: %d", p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("month out of range: %d", p.Month)
	}
	return nil
}

// NewDispatchJob builds a webhook.dispatch job. Dispatch jobs carry no
// idempotency key: every emission fans out.
func NewDispatchJob(p DispatchPayload) (Job, error) {
	if err := p.Validate(); err != nil {
		return Job{}, fmt.Errorf("validating dispatch payload: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling dispatch payload: %w", err)
	}
	return Job{Name: JobWebhookDispatch, Payload: raw}, nil
}

// NewDeliverJob builds a webhook.deliver job keyed by delivery and attempt
// so duplicate retry scheduling collapses into one job.
func NewDeliverJob(p DeliverPayload, runAt time.Time) (Job, error) {
	if err := p.Validate(); err != nil {
		return Job{}, fmt.Errorf("validating deliver payload: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling deliver payload: %w", err)
	}
	return Job{
		Name:    JobWebhookDeliver,
		Payload: raw,
		Key:     DeliverKey(p.DeliveryID, p.Attempt),
		RunAt:   runAt,
	}, nil
}

// NewUpdateMonthlyJob builds an aggregation.updateMonthly job keyed per
// user and month.
func NewUpdateMonthlyJob(p UpdateMonthlyPayload) (Job, error) {
	if err := p.Validate(); err != nil {
		return Job{}, fmt.Errorf("validating aggregation payload: %w", err)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return Job{}, fmt.Errorf("marshaling aggregation payload: %w", err)
	}
	return Job{
		Name:    JobAggregationUpdateMonthly,
		Payload: raw,
		Key:     UpdateMonthlyKey(p.UserID, p.Year, p.Month),
	}, nil
}

// DeliverKey is the idempotency key format for retry jobs: webhook-{deliveryId}-{attempt}
func DeliverKey(deliveryID string, attempt int) string {
	return fmt.Sprintf("webhook-%s-%d", deliveryID, attempt)
}

// UpdateMonthlyKey is the idempotency key format for aggregation jobs: agg-{userId}-{year}-{month}
func UpdateMonthlyKey(userID string, year, month int) string {
	return fmt.Sprintf("agg-%s-%d-%d", userID, year, month)
}
