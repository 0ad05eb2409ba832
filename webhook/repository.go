package webhook

import "context"

/* Storage contracts split by concern so each consumer depends on the
 * narrow slice it uses: the dispatcher reads registrations, the deliverer
 * writes delivery state, and only the wiring layer needs the whole thing
 */

// WebhookReader provides read operations for webhook registrations
type WebhookReader interface {
	GetWebhook(ctx context.Context, id string) (Webhook, error)
	ListWebhooks(ctx context.Context, userID string) ([]Webhook, error)
	/* ListActiveForEvent returns the user's active webhooks whose
	 * subscriptions match the event type, wildcards included
	 */
	ListActiveForEvent(ctx context.Context, userID, eventType string) ([]Webhook, error)
}

// WebhookWriter provides write operations for webhook registrations
type WebhookWriter interface {
	StoreWebhook(ctx context.Context, wh Webhook) error
	UpdateWebhook(ctx context.Context, wh Webhook) error
}

// DeliveryReader provides read operations for deliveries
type DeliveryReader interface {
	GetDelivery(ctx context.Context, id string) (Delivery, error)
	ListDeliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error)
	/* CountDeliveriesByStatus returns delivery counts keyed by status
	 * string, used for the operational snapshot
	 */
	CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error)
}

// DeliveryWriter provides write operations for deliveries
type DeliveryWriter interface {
	StoreDelivery(ctx context.Context, d Delivery) error
	UpdateDelivery(ctx context.Context, d Delivery) error
}

// Repository is the union of the storage contracts plus lifecycle.
type Repository interface {
	WebhookReader
	WebhookWriter
	DeliveryReader
	DeliveryWriter
	Close(ctx context.Context) error
}
