// Package chi wires the public API surface: webhook registration, event
// ingestion, delivery history and the operational endpoints.
package chi

import (
	"context"
	"net/http"
	"time"

	"github.com/finbooks/resilience/metrics"
	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/ratelimit"
	"github.com/finbooks/resilience/webhook"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httplog"
)

// Deps bundles everything the API surface depends on.
type Deps struct {
	Webhooks    *webhook.Service
	Deliverer   *webhook.Deliverer
	Queue       queue.Queue
	DeadLetters queue.DeadLetterReader
	Collector   metrics.Collector
	Limiter     *ratelimit.Limiter

	// RateLimit and RateWindow gate every /v1 request per client IP
	RateLimit  int
	RateWindow time.Duration

	// MetricsHandler serves Prometheus-formatted metrics on /metrics
	MetricsHandler http.Handler
}

// Handlers sets up the API routes
func Handlers(ctx context.Context, deps Deps) *chi.Mux {
	logger := httplog.NewLogger("resilience-api", httplog.Options{
		JSON: true,
	})

	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		if deps.Limiter != nil && deps.RateLimit > 0 {
			r.Use(ratelimit.Middleware(deps.Limiter, deps.RateLimit, deps.RateWindow, ratelimit.ByClientIP))
		}

		// Webhook registration
		r.Post("/webhooks", postWebhook(deps.Webhooks).ServeHTTP)
		r.Get("/webhooks", getWebhooks(deps.Webhooks).ServeHTTP)
		r.Post("/webhooks/{id}/rotate", rotateWebhookSecret(deps.Webhooks).ServeHTTP)
		r.Delete("/webhooks/{id}", deleteWebhook(deps.Webhooks).ServeHTTP)
		r.Get("/webhooks/{id}/deliveries", getDeliveries(deps.Webhooks).ServeHTTP)

		// Event ingestion and delivery replay
		r.Post("/events", postEvent(deps.Queue).ServeHTTP)
		r.Post("/deliveries/{id}/resend", resendDelivery(deps.Deliverer).ServeHTTP)

		// Operational surface
		r.Get("/ops/status", getOpsStatus(deps.Collector).ServeHTTP)
		r.Get("/ops/dead-letters", getDeadLetters(deps.DeadLetters).ServeHTTP)
	})

	return r
}
