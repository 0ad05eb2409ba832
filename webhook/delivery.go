package webhook

import "time"

// DefaultMaxAttempts bounds the retry chain of one delivery.
const DefaultMaxAttempts = 5

/* Delivery is one attempt chain of one event against one webhook
 * EventID is shared across every delivery fanned out from the same
 * dispatch; Payload is the exact signed body sent on every attempt
 */
type Delivery struct {
	ID             string
	WebhookID      string
	UserID         string
	EventID        string
	EventType      string
	Payload        []byte
	Status         DeliveryStatus
	StatusCode     int
	Attempts       int
	MaxAttempts    int
	NextRetryAt    time.Time
	ResponseBody   string
	ResponseTimeMs int64
	ErrorMessage   string
	DeliveredAt    time.Time
	FailedAt       time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
