package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/finbooks/resilience/queue"
	"github.com/finbooks/resilience/webhook"
	"github.com/go-chi/chi/v5"
)

type eventRequest struct {
	UserID string          `json:"userId"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
}

type eventAcceptedResponse struct {
	Status string `json:"status"`
}

// postEvent handles POST /v1/events. The event is queued for asynchronous
// fan-out; a 202 means accepted, not delivered.
func postEvent(q queue.Queue) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req eventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		job, err := queue.NewDispatchJob(queue.DispatchPayload{
			UserID: req.UserID,
			Event:  req.Event,
			Data:   req.Data,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := q.Enqueue(r.Context(), job); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(eventAcceptedResponse{Status: "queued"})
	})
}

// resendDelivery handles POST /v1/deliveries/{id}/resend
func resendDelivery(deliverer *webhook.Deliverer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, err := deliverer.Resend(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			status := http.StatusNotFound
			if errors.Is(err, webhook.ErrNotResendable) {
				status = http.StatusConflict
			}
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(toDeliveryResponse(d))
	})
}
