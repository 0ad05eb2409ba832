package webhook

import (
	"fmt"
	"net/url"
	"time"

	"github.com/finbooks/resilience/event"
)

/* Webhook represents a registered endpoint subscription
 * Passed by value everywhere; nothing mutates a registration in place
 * Secret holds the whsec_-encoded signing secret and is never
 * serialized to API responses after creation
 */
type Webhook struct {
	ID        string
	UserID    string
	URL       string
	Secret    string
	Events    []string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the registration fields.
func (w Webhook) Validate() error {
	if w.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if err := ValidateURL(w.URL, false); err != nil {
		return err
	}
	if len(w.Events) == 0 {
		return fmt.Errorf("at least one event subscription is required")
	}
	for _, sub := range w.Events {
		if err := event.ValidateType(sub); err != nil {
			return fmt.Errorf("invalid event subscription %q: %w", sub, err)
		}
	}
	return nil
}

// SubscribedTo reports whether the webhook subscribes to the given event
// type, wildcard subscriptions included.
func (w Webhook) SubscribedTo(eventType string) bool {
	for _, sub := range w.Events {
		if event.TypeMatches(eventType, sub) {
			return true
		}
	}
	return false
}

// ValidateURL checks that a webhook target URL is absolute and uses an
// allowed scheme. With requireHTTPS set, plain http targets are rejected.
func ValidateURL(raw string, requireHTTPS bool) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}

	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if requireHTTPS {
			return fmt.Errorf("https is required for webhook urls")
		}
		return nil
	default:
		return fmt.Errorf("unsupported url scheme: %s", u.Scheme)
	}
}
