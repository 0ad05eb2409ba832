package chi

import (
	"encoding/json"
	"net/http"

	"github.com/finbooks/resilience/metrics"
	"github.com/finbooks/resilience/queue"
)

// getOpsStatus handles GET /v1/ops/status with a snapshot of circuits,
// queue depths and delivery counts.
func getOpsStatus(collector metrics.Collector) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := collector.Collect(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m)
	})
}

// getDeadLetters handles GET /v1/ops/dead-letters
func getDeadLetters(reader queue.DeadLetterReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reader == nil {
			http.Error(w, "dead letter inspection is not available", http.StatusNotFound)
			return
		}

		letters, err := reader.DeadLetters(r.Context(), 100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if letters == nil {
			letters = []queue.DeadLetter{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(letters)
	})
}
