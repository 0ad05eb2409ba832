// Package redis implements webhook.Repository on Redis hashes and sorted
// sets: hashes for entities, a set per user for registrations, and a
// sorted set per webhook for delivery history.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/finbooks/resilience/webhook"
	"github.com/redis/go-redis/v9"
)

const (
	webhookPrefix  = "webhook"             // Hash naming: webhook:{webhook_id}
	userSetPrefix  = "webhooks:user"       // Set naming: webhooks:user:{user_id}
	deliveryPrefix = "delivery"            // Hash naming: delivery:{delivery_id}
	historyPrefix  = "deliveries:webhook"  // Sorted set naming: deliveries:webhook:{webhook_id}, scored by created_at
	historyMax     = 1000                  // Deliveries kept per webhook
	scanCount      = 500
)

type Repository struct {
	client *redis.Client
}

// NewRepository creates a repository on a fresh client. The connection is
// lazy; callers that care about reachability probe it with Ping.
func NewRepository(addr, password string, db int) *Repository {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Repository{client: client}
}

// Ping verifies the server is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

var _ webhook.Repository = (*Repository)(nil)

func webhookKey(id string) string        { return fmt.Sprintf("%s:%s", webhookPrefix, id) }
func userSetKey(userID string) string    { return fmt.Sprintf("%s:%s", userSetPrefix, userID) }
func deliveryKey(id string) string       { return fmt.Sprintf("%s:%s", deliveryPrefix, id) }
func historyKey(webhookID string) string { return fmt.Sprintf("%s:%s", historyPrefix, webhookID) }

// StoreWebhook persists a registration and indexes it under its user.
func (r *Repository) StoreWebhook(ctx context.Context, wh webhook.Webhook) error {
	eventsJSON, err := json.Marshal(wh.Events)
	if err != nil {
		return fmt.Errorf("marshaling event subscriptions: %w", err)
	}

	err = r.client.HSet(ctx, webhookKey(wh.ID), map[string]interface{}{
		"id":         wh.ID,
		"user_id":    wh.UserID,
		"url":        wh.URL,
		"secret":     wh.Secret,
		"events":     string(eventsJSON),
		"is_active":  boolField(wh.IsActive),
		"created_at": wh.CreatedAt.Unix(),
		"updated_at": wh.UpdatedAt.Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("storing webhook: %w", err)
	}

	if err := r.client.SAdd(ctx, userSetKey(wh.UserID), wh.ID).Err(); err != nil {
		return fmt.Errorf("indexing webhook for user: %w", err)
	}
	return nil
}

// UpdateWebhook overwrites a registration's mutable fields.
func (r *Repository) UpdateWebhook(ctx context.Context, wh webhook.Webhook) error {
	exists, err := r.client.Exists(ctx, webhookKey(wh.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking webhook: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("webhook not found: %s", wh.ID)
	}

	eventsJSON, err := json.Marshal(wh.Events)
	if err != nil {
		return fmt.Errorf("marshaling event subscriptions: %w", err)
	}

	err = r.client.HSet(ctx, webhookKey(wh.ID), map[string]interface{}{
		"url":        wh.URL,
		"secret":     wh.Secret,
		"events":     string(eventsJSON),
		"is_active":  boolField(wh.IsActive),
		"updated_at": time.Now().Unix(),
	}).Err()
	if err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	return nil
}

// GetWebhook retrieves a registration by ID.
func (r *Repository) GetWebhook(ctx context.Context, id string) (webhook.Webhook, error) {
	data, err := r.client.HGetAll(ctx, webhookKey(id)).Result()
	if err != nil {
		return webhook.Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}
	if len(data) == 0 {
		return webhook.Webhook{}, fmt.Errorf("webhook not found: %s", id)
	}
	return parseWebhook(data)
}

// ListWebhooks returns every registration of a user.
func (r *Repository) ListWebhooks(ctx context.Context, userID string) ([]webhook.Webhook, error) {
	ids, err := r.client.SMembers(ctx, userSetKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing user webhooks: %w", err)
	}

	hooks := make([]webhook.Webhook, 0, len(ids))
	for _, id := range ids {
		wh, err := r.GetWebhook(ctx, id)
		if err != nil {
			// Index entry without a hash, skip
			continue
		}
		hooks = append(hooks, wh)
	}
	return hooks, nil
}

// ListActiveForEvent returns the user's active webhooks subscribed to the
// event type.
func (r *Repository) ListActiveForEvent(ctx context.Context, userID, eventType string) ([]webhook.Webhook, error) {
	hooks, err := r.ListWebhooks(ctx, userID)
	if err != nil {
		return nil, err
	}

	matched := make([]webhook.Webhook, 0, len(hooks))
	for _, wh := range hooks {
		if wh.IsActive && wh.SubscribedTo(eventType) {
			matched = append(matched, wh)
		}
	}
	return matched, nil
}

// StoreDelivery persists a delivery and appends it to its webhook's
// history, trimming the history to the newest entries.
func (r *Repository) StoreDelivery(ctx context.Context, d webhook.Delivery) error {
	if err := r.client.HSet(ctx, deliveryKey(d.ID), deliveryFields(d)).Err(); err != nil {
		return fmt.Errorf("storing delivery: %w", err)
	}

	key := historyKey(d.WebhookID)
	err := r.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(d.CreatedAt.Unix()),
		Member: d.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("indexing delivery: %w", err)
	}

	// Keep only the newest historyMax entries
	r.client.ZRemRangeByRank(ctx, key, 0, int64(-historyMax-1))
	return nil
}

// UpdateDelivery overwrites a delivery's mutable fields.
func (r *Repository) UpdateDelivery(ctx context.Context, d webhook.Delivery) error {
	exists, err := r.client.Exists(ctx, deliveryKey(d.ID)).Result()
	if err != nil {
		return fmt.Errorf("checking delivery: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("delivery not found: %s", d.ID)
	}

	if err := r.client.HSet(ctx, deliveryKey(d.ID), deliveryFields(d)).Err(); err != nil {
		return fmt.Errorf("updating delivery: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by ID.
func (r *Repository) GetDelivery(ctx context.Context, id string) (webhook.Delivery, error) {
	data, err := r.client.HGetAll(ctx, deliveryKey(id)).Result()
	if err != nil {
		return webhook.Delivery{}, fmt.Errorf("getting delivery: %w", err)
	}
	if len(data) == 0 {
		return webhook.Delivery{}, fmt.Errorf("delivery not found: %s", id)
	}
	return parseDelivery(data), nil
}

// ListDeliveries returns the most recent deliveries for a webhook, newest
// first.
func (r *Repository) ListDeliveries(ctx context.Context, webhookID string, limit int) ([]webhook.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := r.client.ZRevRange(ctx, historyKey(webhookID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}

	deliveries := make([]webhook.Delivery, 0, len(ids))
	for _, id := range ids {
		d, err := r.GetDelivery(ctx, id)
		if err != nil {
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

// CountDeliveriesByStatus scans delivery hashes and tallies them by status.
func (r *Repository) CountDeliveriesByStatus(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, deliveryPrefix+":*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning deliveries: %w", err)
		}

		for _, key := range keys {
			status, err := r.client.HGet(ctx, key, "status").Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("reading delivery status: %w", err)
			}
			counts[status]++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return counts, nil
}

// Close closes the Redis connection
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client so the cache, limiter and
// queue can share the connection pool.
func (r *Repository) GetClient() *redis.Client {
	return r.client
}

// Helper functions

func deliveryFields(d webhook.Delivery) map[string]interface{} {
	return map[string]interface{}{
		"id":               d.ID,
		"webhook_id":       d.WebhookID,
		"user_id":          d.UserID,
		"event_id":         d.EventID,
		"event_type":       d.EventType,
		"payload":          d.Payload,
		"status":           d.Status.String(),
		"status_code":      d.StatusCode,
		"attempts":         d.Attempts,
		"max_attempts":     d.MaxAttempts,
		"next_retry_at":    timeField(d.NextRetryAt),
		"response_body":    d.ResponseBody,
		"response_time_ms": d.ResponseTimeMs,
		"error_message":    d.ErrorMessage,
		"delivered_at":     timeField(d.DeliveredAt),
		"failed_at":        timeField(d.FailedAt),
		"created_at":       d.CreatedAt.Unix(),
		"updated_at":       d.UpdatedAt.Unix(),
	}
}

func parseWebhook(data map[string]string) (webhook.Webhook, error) {
	var events []string
	if raw := data["events"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return webhook.Webhook{}, fmt.Errorf("unmarshaling event subscriptions: %w", err)
		}
	}

	return webhook.Webhook{
		ID:        data["id"],
		UserID:    data["user_id"],
		URL:       data["url"],
		Secret:    data["secret"],
		Events:    events,
		IsActive:  data["is_active"] == "1",
		CreatedAt: time.Unix(parseInt64(data["created_at"]), 0),
		UpdatedAt: time.Unix(parseInt64(data["updated_at"]), 0),
	}, nil
}

func parseDelivery(data map[string]string) webhook.Delivery {
	return webhook.Delivery{
		ID:             data["id"],
		WebhookID:      data["webhook_id"],
		UserID:         data["user_id"],
		EventID:        data["event_id"],
		EventType:      data["event_type"],
		Payload:        []byte(data["payload"]),
		Status:         webhook.NewDeliveryStatus(data["status"]),
		StatusCode:     int(parseInt64(data["status_code"])),
		Attempts:       int(parseInt64(data["attempts"])),
		MaxAttempts:    int(parseInt64(data["max_attempts"])),
		NextRetryAt:    parseTime(data["next_retry_at"]),
		ResponseBody:   data["response_body"],
		ResponseTimeMs: parseInt64(data["response_time_ms"]),
		ErrorMessage:   data["error_message"],
		DeliveredAt:    parseTime(data["delivered_at"]),
		FailedAt:       parseTime(data["failed_at"]),
		CreatedAt:      time.Unix(parseInt64(data["created_at"]), 0),
		UpdatedAt:      time.Unix(parseInt64(data["updated_at"]), 0),
	}
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// timeField encodes a possibly-zero time as unix seconds, zero as 0.
func timeField(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func parseTime(s string) time.Time {
	unix := parseInt64(s)
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

func parseInt64(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
