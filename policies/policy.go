// Package policies loads per-event retry policies from policies.yaml,
// falling back to built-in defaults for events without an entry.
package policies

import (
	"fmt"
	"time"

	"github.com/finbooks/resilience/event"
	"github.com/finbooks/resilience/webhook"
)

// Built-in defaults applied when no policy matches.
const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelaySeconds = 60
	DefaultMaxDelaySeconds  = 3600
)

/* Policy is one retry policy entry keyed by event type
 * EventType supports the same trailing wildcard as subscriptions, so
 * "invoice.*" covers every invoice event without an exact entry
 */
type Policy struct {
	EventType        string `yaml:"event_type"`
	MaxAttempts      int    `yaml:"max_attempts"`
	BaseDelaySeconds int    `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int    `yaml:"max_delay_seconds"`
}

// Validate checks the policy entry.
func (p Policy) Validate() error {
	if err := event.ValidateType(p.EventType); err != nil {
		return fmt.Errorf("invalid event_type: %w", err)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 for %s", p.EventType)
	}
	if p.BaseDelaySeconds < 1 {
		return fmt.Errorf("base_delay_seconds must be at least 1 for %s", p.EventType)
	}
	if p.MaxDelaySeconds < p.BaseDelaySeconds {
		return fmt.Errorf("max_delay_seconds must be at least base_delay_seconds for %s", p.EventType)
	}
	return nil
}

func (p Policy) retryPolicy() webhook.RetryPolicy {
	return webhook.RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		BaseDelay:   time.Duration(p.BaseDelaySeconds) * time.Second,
		MaxDelay:    time.Duration(p.MaxDelaySeconds) * time.Second,
	}
}

// Default returns the built-in retry policy.
func Default() webhook.RetryPolicy {
	return webhook.RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelaySeconds * time.Second,
		MaxDelay:    DefaultMaxDelaySeconds * time.Second,
	}
}
