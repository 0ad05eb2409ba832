package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finbooks/resilience/event"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

/* Dispatcher fans one domain event out to every matching webhook
 * Every delivery created by one Dispatch call shares the same event ID,
 * so receivers can deduplicate across endpoints
 */
type Dispatcher struct {
	repo      Repository
	deliverer *Deliverer
	policies  PolicySource
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher with dependency injection
func NewDispatcher(repo Repository, deliverer *Deliverer, policies PolicySource, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		deliverer: deliverer,
		policies:  policies,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// DispatchResult summarizes one fan-out.
type DispatchResult struct {
	EventID   string
	Total     int
	Succeeded int
	Retrying  int
	Failed    int
}

// Dispatch builds the event, creates one delivery per matching active
// webhook and attempts each immediately. A failure against one webhook
// never affects the others. With no matching webhooks the dispatch is a
// no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, eventType string, data json.RawMessage) (DispatchResult, error) {
	ev, err := event.New(eventType, data)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("building event: %w", err)
	}

	hooks, err := d.repo.ListActiveForEvent(ctx, userID, eventType)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("listing webhooks for event: %w", err)
	}
	if len(hooks) == 0 {
		d.logger.Debug().Str("user_id", userID).Str("event_type", eventType).Msg("no matching webhooks")
		return DispatchResult{EventID: ev.ID}, nil
	}

	payload, err := ev.Bytes()
	if err != nil {
		return DispatchResult{}, fmt.Errorf("encoding event payload: %w", err)
	}

	policy := d.policies.ForEvent(eventType)
	result := DispatchResult{EventID: ev.ID, Total: len(hooks)}

	for _, wh := range hooks {
		now := time.Now()
		delivery := Delivery{
			ID:          uuid.New().String(),
			WebhookID:   wh.ID,
			UserID:      userID,
			EventID:     ev.ID,
			EventType:   eventType,
			Payload:     payload,
			Status:      Pending,
			MaxAttempts: policy.MaxAttempts,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := d.repo.StoreDelivery(ctx, delivery); err != nil {
			d.logger.Error().Err(err).Str("webhook_id", wh.ID).Str("event_id", ev.ID).Msg("storing delivery")
			result.Failed++
			continue
		}

		attempted, err := d.deliverer.Attempt(ctx, delivery.ID)
		if err != nil {
			d.logger.Error().Err(err).Str("webhook_id", wh.ID).Str("delivery_id", delivery.ID).Msg("first delivery attempt")
			result.Failed++
			continue
		}

		switch attempted.Status {
		case Success:
			result.Succeeded++
		case Retrying:
			result.Retrying++
		case Failed:
			result.Failed++
		}
	}

	return result, nil
}
