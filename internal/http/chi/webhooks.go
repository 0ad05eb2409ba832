package chi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/finbooks/resilience/webhook"
	"github.com/go-chi/chi/v5"
)

/* HTTP layer DTOs for the webhook API
 * Separate from domain entities to avoid leaking internal structure
 * The signing secret appears only in the creation and rotation
 * responses, never in listings
 */

type webhookRequest struct {
	UserID string   `json:"userId"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

type webhookCreatedResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

type webhookResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type deliveryResponse struct {
	ID             string     `json:"id"`
	EventID        string     `json:"eventId"`
	EventType      string     `json:"eventType"`
	Status         string     `json:"status"`
	StatusCode     int        `json:"statusCode,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	NextRetryAt    *time.Time `json:"nextRetryAt,omitempty"`
	ResponseTimeMs int64      `json:"responseTimeMs,omitempty"`
	ErrorMessage   string     `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// postWebhook handles POST /v1/webhooks
func postWebhook(svc *webhook.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req webhookRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		wh, err := svc.Create(r.Context(), req.UserID, req.URL, req.Events)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(webhookCreatedResponse{
			ID:        wh.ID,
			URL:       wh.URL,
			Events:    wh.Events,
			Secret:    wh.Secret,
			IsActive:  wh.IsActive,
			CreatedAt: wh.CreatedAt,
		})
	})
}

// getWebhooks handles GET /v1/webhooks?userId=
func getWebhooks(svc *webhook.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}

		hooks, err := svc.List(r.Context(), userID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		result := make([]webhookResponse, 0, len(hooks))
		for _, wh := range hooks {
			result = append(result, webhookResponse{
				ID:        wh.ID,
				URL:       wh.URL,
				Events:    wh.Events,
				IsActive:  wh.IsActive,
				CreatedAt: wh.CreatedAt,
				UpdatedAt: wh.UpdatedAt,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})
}

// rotateWebhookSecret handles POST /v1/webhooks/{id}/rotate
func rotateWebhookSecret(svc *webhook.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wh, err := svc.RotateSecret(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(webhookCreatedResponse{
			ID:        wh.ID,
			URL:       wh.URL,
			Events:    wh.Events,
			Secret:    wh.Secret,
			IsActive:  wh.IsActive,
			CreatedAt: wh.CreatedAt,
		})
	})
}

// deleteWebhook handles DELETE /v1/webhooks/{id} by deactivating
func deleteWebhook(svc *webhook.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

// getDeliveries handles GET /v1/webhooks/{id}/deliveries
func getDeliveries(svc *webhook.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deliveries, err := svc.Deliveries(r.Context(), chi.URLParam(r, "id"), 50)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		result := make([]deliveryResponse, 0, len(deliveries))
		for _, d := range deliveries {
			result = append(result, toDeliveryResponse(d))
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	})
}

func toDeliveryResponse(d webhook.Delivery) deliveryResponse {
	resp := deliveryResponse{
		ID:             d.ID,
		EventID:        d.EventID,
		EventType:      d.EventType,
		Status:         d.Status.String(),
		StatusCode:     d.StatusCode,
		Attempts:       d.Attempts,
		MaxAttempts:    d.MaxAttempts,
		ResponseTimeMs: d.ResponseTimeMs,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
	}
	if !d.NextRetryAt.IsZero() {
		t := d.NextRetryAt
		resp.NextRetryAt = &t
	}
	return resp
}
