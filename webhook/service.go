package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/finbooks/resilience/webhook/signature"
	"github.com/google/uuid"
)

/* Service owns the registration lifecycle: create, rotate, deactivate
 * Secrets are generated here and handed out exactly once
 */
type Service struct {
	repo         Repository
	requireHTTPS bool
}

// NewService creates a new registration service with dependency injection
func NewService(repo Repository, requireHTTPS bool) *Service {
	return &Service{
		repo:         repo,
		requireHTTPS: requireHTTPS,
	}
}

// Create registers a new webhook with a freshly generated signing secret.
// The secret is returned on the created webhook and is not retrievable
// afterwards.
func (s *Service) Create(ctx context.Context, userID, url string, events []string) (Webhook, error) {
	secret, err := signature.GenerateSecret()
	if err != nil {
		return Webhook{}, fmt.Errorf("generating signing secret: %w", err)
	}

	now := time.Now()
	wh := Webhook{
		ID:        uuid.New().String(),
		UserID:    userID,
		URL:       url,
		Secret:    secret.String(),
		Events:    events,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := wh.Validate(); err != nil {
		return Webhook{}, fmt.Errorf("validating webhook: %w", err)
	}
	if s.requireHTTPS {
		if err := ValidateURL(url, true); err != nil {
			return Webhook{}, err
		}
	}

	if err := s.repo.StoreWebhook(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("storing webhook: %w", err)
	}
	return wh, nil
}

// RotateSecret replaces the webhook's signing secret. In-flight deliveries
// signed with the old secret keep their original signature.
func (s *Service) RotateSecret(ctx context.Context, id string) (Webhook, error) {
	wh, err := s.repo.GetWebhook(ctx, id)
	if err != nil {
		return Webhook{}, fmt.Errorf("getting webhook: %w", err)
	}

	secret, err := signature.GenerateSecret()
	if err != nil {
		return Webhook{}, fmt.Errorf("generating signing secret: %w", err)
	}

	wh.Secret = secret.String()
	wh.UpdatedAt = time.Now()

	if err := s.repo.UpdateWebhook(ctx, wh); err != nil {
		return Webhook{}, fmt.Errorf("updating webhook: %w", err)
	}
	return wh, nil
}

// Deactivate disables a webhook. Pending deliveries for it are skipped.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	wh, err := s.repo.GetWebhook(ctx, id)
	if err != nil {
		return fmt.Errorf("getting webhook: %w", err)
	}
	if !wh.IsActive {
		return nil
	}

	wh.IsActive = false
	wh.UpdatedAt = time.Now()

	if err := s.repo.UpdateWebhook(ctx, wh); err != nil {
		return fmt.Errorf("updating webhook: %w", err)
	}
	return nil
}

// List returns all webhooks registered by a user.
func (s *Service) List(ctx context.Context, userID string) ([]Webhook, error) {
	hooks, err := s.repo.ListWebhooks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	return hooks, nil
}

// Deliveries returns the most recent deliveries for a webhook.
func (s *Service) Deliveries(ctx context.Context, webhookID string, limit int) ([]Delivery, error) {
	deliveries, err := s.repo.ListDeliveries(ctx, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	return deliveries, nil
}
