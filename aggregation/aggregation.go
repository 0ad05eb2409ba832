// Package aggregation recomputes per-user monthly summaries in the
// background and keeps the dashboard caches coherent. It is the handler
// behind aggregation.updateMonthly jobs.
package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/finbooks/resilience/cache"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/webhook"
	"github.com/rs/zerolog"
)

// MonthlySummary is the cached result of one recomputation.
type MonthlySummary struct {
	UserID         string           `json:"userId"`
	Year           int              `json:"year"`
	Month          int              `json:"month"`
	DeliveryCounts map[string]int64 `json:"deliveryCounts"`
	ComputedAt     time.Time        `json:"computedAt"`
}

/* Service recomputes monthly aggregates and refreshes the cache
 * The write path is deliberately cache-first: stale dashboard entries
 * for the user get invalidated before the fresh summary lands
 */
type Service struct {
	cache      *cache.Cache
	deliveries webhook.DeliveryReader
	logger     zerolog.Logger
}

// NewService creates the aggregation service with dependency injection
func NewService(c *cache.Cache, deliveries webhook.DeliveryReader, logger zerolog.Logger) *Service {
	return &Service{
		cache:      c,
		deliveries: deliveries,
		logger:     logger.With().Str("component", "aggregation").Logger(),
	}
}

// SummaryKey is the cache key of a user's monthly summary.
func SummaryKey(userID string, year, month int) string {
	return cache.Key(cache.KeyDashboardRevenue, userID, fmt.Sprintf("%d-%02d", year, month))
}

// UpdateMonthly recomputes a user's summary for the given month. It is the
// worker's AggregationHandler.
func (s *Service) UpdateMonthly(ctx context.Context, p queue.UpdateMonthlyPayload) error {
	// Drop stale dashboard entries first
	s.cache.DelPattern(ctx, cache.UserPattern(cache.KeyDashboardStats, p.UserID))

	counts, err := s.deliveries.CountDeliveriesByStatus(ctx)
	if err != nil {
		return fmt.Errorf("counting deliveries: %w", err)
	}

	summary := MonthlySummary{
		UserID:         p.UserID,
		Year:           p.Year,
		Month:          p.Month,
		DeliveryCounts: counts,
		ComputedAt:     time.Now().UTC(),
	}

	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	s.cache.Set(ctx, SummaryKey(p.UserID, p.Year, p.Month), raw, cache.TTLDashboardRevenue)

	s.logger.Info().
		Str("user_id", p.UserID).
		Int("year", p.Year).
		Int("month", p.Month).
		Msg("monthly aggregates recomputed")
	return nil
}

// Summary returns the cached summary for a month, if present.
func (s *Service) Summary(ctx context.Context, userID string, year, month int) (MonthlySummary, bool) {
	raw, ok := s.cache.Get(ctx, SummaryKey(userID, year, month))
	if !ok {
		return MonthlySummary{}, false
	}

	var summary MonthlySummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		return MonthlySummary{}, false
	}
	return summary, true
}
