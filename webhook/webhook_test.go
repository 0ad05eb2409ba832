package webhook_test

import (
	"testing"

	"github.com/finbooks/resilience/webhook"
	"github.com/stretchr/testify/assert"
)

func TestSubscribedTo(t *testing.T) {
	tests := []struct {
		name      string
		events    []string
		eventType string
		want      bool
	}{
		{"exact match", []string{"invoice.paid"}, "invoice.paid", true},
		{"no match", []string{"invoice.paid"}, "invoice.created", false},
		{"wildcard match", []string{"invoice.*"}, "invoice.paid", true},
		{"wildcard does not match other prefix", []string{"invoice.*"}, "customer.created", false},
		{"any of several subscriptions", []string{"customer.*", "invoice.paid"}, "invoice.paid", true},
		{"wildcard needs a suffix segment", []string{"invoice.*"}, "invoice", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wh := webhook.Webhook{Events: tt.events}
			assert.Equal(t, tt.want, wh.SubscribedTo(tt.eventType))
		})
	}
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, webhook.ValidateURL("https://example.com/hooks", true))
	assert.NoError(t, webhook.ValidateURL("http://localhost:9000/hooks", false))
	assert.Error(t, webhook.ValidateURL("http://example.com/hooks", true), "http rejected when https is required")
	assert.Error(t, webhook.ValidateURL("ftp://example.com", false))
	assert.Error(t, webhook.ValidateURL("/relative/path", false))
	assert.Error(t, webhook.ValidateURL("", false))
}

func TestWebhookValidate(t *testing.T) {
	valid := webhook.Webhook{
		UserID: "user-1",
		URL:    "https://example.com/hooks",
		Events: []string{"invoice.paid", "customer.*"},
	}
	assert.NoError(t, valid.Validate())

	noEvents := valid
	noEvents.Events = nil
	assert.Error(t, noEvents.Validate())

	badEvent := valid
	badEvent.Events = []string{"invoice paid"}
	assert.Error(t, badEvent.Validate())

	noUser := valid
	noUser.UserID = ""
	assert.Error(t, noUser.Validate())
}

func TestDeliveryStatus(t *testing.T) {
	assert.Equal(t, "retrying", webhook.Retrying.String())
	assert.Equal(t, webhook.Failed, webhook.NewDeliveryStatus("failed"))
	assert.True(t, webhook.Success.IsFinal())
	assert.True(t, webhook.Failed.IsFinal())
	assert.False(t, webhook.Pending.IsFinal())
	assert.False(t, webhook.Retrying.IsFinal())
	assert.Error(t, webhook.DeliveryStatus(99).Validate())
}
