// Package event defines the canonical domain-event envelope fanned out to
// webhook subscribers.
package event

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// typePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var typePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

/* Event is the canonical payload delivered to every subscriber
 * The ID is shared across all deliveries of one logical event so that
 * consumers can deduplicate; ordering across webhooks is unspecified
 */
type Event struct {
	// ID is a fresh unique identifier for the logical event instance
	ID string `json:"id"`

	// Type is a full-stop delimited event type
	// Examples: "invoice.created", "customer.updated"
	Type string `json:"type"`

	// Data is the event data, serialized once at dispatch time
	Data json.RawMessage `json:"data"`

	// CreatedAt is when the event occurred
	CreatedAt time.Time `json:"createdAt"`
}

// New creates an Event with a fresh ID from the given type and data
func New(eventType string, data interface{}) (Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling event data: %w", err)
	}

	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Data:      dataBytes,
		CreatedAt: time.Now().UTC(),
	}

	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return ev, nil
}

// Parse parses a JSON-encoded canonical payload
func Parse(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("unmarshaling event: %w", err)
	}

	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("validating event: %w", err)
	}

	return ev, nil
}

// Validate checks the envelope structure
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if err := ValidateType(e.Type); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("createdAt is required")
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data is required")
	}
	if !json.Valid(e.Data) {
		return fmt.Errorf("data must be valid JSON")
	}
	return nil
}

// Bytes returns the minified JSON encoding of the event. This is the exact
// body that gets signed and POSTed, so it must be produced once and reused.
func (e Event) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

// ValidateType validates an event type, allowing a trailing ".*" wildcard
// used by subscription filters.
func ValidateType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}

	if strings.HasSuffix(eventType, ".*") {
		eventType = strings.TrimSuffix(eventType, ".*")
	}

	if !typePattern.MatchString(eventType) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", eventType)
	}

	return nil
}

// TypeMatches reports whether a concrete event type matches a subscription
// entry. Subscriptions support exact matches and a trailing wildcard
// (e.g. "invoice.*" matches "invoice.created").
func TypeMatches(eventType, subscription string) bool {
	if eventType == subscription {
		return true
	}

	if strings.HasSuffix(subscription, ".*") {
		prefix := strings.TrimSuffix(subscription, ".*")
		return strings.HasPrefix(eventType, prefix+".")
	}

	return false
}
