package policies

import (
	"fmt"
	"os"

	"github.com/finbooks/resilience/event"
	"github.com/finbooks/resilience/webhook"
	"gopkg.in/yaml.v3"
)

// Config represents the structure of policies.yaml
type Config struct {
	Policies []Policy `yaml:"policies"`
}

/* Loader holds the loaded policies and resolves them per event type
 * Exact entries win over wildcard entries; anything else gets the
 * built-in default
 */
type Loader struct {
	exact     map[string]Policy
	wildcards []Policy
}

var _ webhook.PolicySource = (*Loader)(nil)

// NewLoader creates an empty loader that resolves everything to the
// default policy until Load is called.
func NewLoader() *Loader {
	return &Loader{
		exact: make(map[string]Policy),
	}
}

// Load reads and parses the policies.yaml file
func (l *Loader) Load(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading policies file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("parsing policies YAML: %w", err)
	}

	exact := make(map[string]Policy)
	var wildcards []Policy
	for _, p := range config.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("validating policy: %w", err)
		}

		if isWildcard(p.EventType) {
			wildcards = append(wildcards, p)
		} else {
			exact[p.EventType] = p
		}
	}

	l.exact = exact
	l.wildcards = wildcards
	return nil
}

// ForEvent resolves the retry policy for an event type.
func (l *Loader) ForEvent(eventType string) webhook.RetryPolicy {
	if p, ok := l.exact[eventType]; ok {
		return p.retryPolicy()
	}
	for _, p := range l.wildcards {
		if event.TypeMatches(eventType, p.EventType) {
			return p.retryPolicy()
		}
	}
	return Default()
}

func isWildcard(eventType string) bool {
	return len(eventType) > 2 && eventType[len(eventType)-2:] == ".*"
}
