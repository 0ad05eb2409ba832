package policies_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/finbooks/resilience/policies"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePolicies(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderForEvent(t *testing.T) {
	loader := policies.NewLoader()
	require.NoError(t, loader.Load(writePolicies(t, `
policies:
  - event_type: invoice.paid
    max_attempts: 8
    base_delay_seconds: 30
    max_delay_seconds: 1800
  - event_type: invoice.*
    max_attempts: 3
    base_delay_seconds: 120
    max_delay_seconds: 3600
`)))

	t.Run("exact entries win over wildcards", func(t *testing.T) {
		p := loader.ForEvent("invoice.paid")
		assert.Equal(t, 8, p.MaxAttempts)
		assert.Equal(t, 30*time.Second, p.BaseDelay)
	})

	t.Run("wildcard entries cover the rest of the prefix", func(t *testing.T) {
		p := loader.ForEvent("invoice.created")
		assert.Equal(t, 3, p.MaxAttempts)
		assert.Equal(t, 2*time.Minute, p.BaseDelay)
	})

	t.Run("unknown events get the default policy", func(t *testing.T) {
		p := loader.ForEvent("customer.created")
		assert.Equal(t, policies.DefaultMaxAttempts, p.MaxAttempts)
		assert.Equal(t, time.Minute, p.BaseDelay)
		assert.Equal(t, time.Hour, p.MaxDelay)
	})
}

func TestLoaderValidation(t *testing.T) {
	t.Run("rejects invalid event types", func(t *testing.T) {
		loader := policies.NewLoader()
		err := loader.Load(writePolicies(t, `
policies:
  - event_type: "invoice paid"
    max_attempts: 3
    base_delay_seconds: 60
    max_delay_seconds: 3600
`))
		assert.Error(t, err)
	})

	t.Run("rejects a max delay below the base delay", func(t *testing.T) {
		loader := policies.NewLoader()
		err := loader.Load(writePolicies(t, `
policies:
  - event_type: invoice.paid
    max_attempts: 3
    base_delay_seconds: 600
    max_delay_seconds: 60
`))
		assert.Error(t, err)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		loader := policies.NewLoader()
		assert.Error(t, loader.Load(filepath.Join(t.TempDir(), "missing.yaml")))
	})

	t.Run("unloaded loader serves defaults", func(t *testing.T) {
		loader := policies.NewLoader()
		p := loader.ForEvent("invoice.paid")
		assert.Equal(t, policies.DefaultMaxAttempts, p.MaxAttempts)
	})
}
