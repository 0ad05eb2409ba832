package breaker

import (
	"sort"
	"time"
)

// CircuitStatus is a read-only view of one circuit, exposed for the
// operational status endpoint and metrics.
type CircuitStatus struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Failures      int       `json:"failures"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Snapshot returns the current state of every known circuit, sorted by
// identifier for stable output.
func (r *Registry) Snapshot() []CircuitStatus {
	r.mu.Lock()
	ids := make([]string, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)

	statuses := make([]CircuitStatus, 0, len(ids))
	for _, id := range ids {
		rec := r.get(id)
		rec.mu.Lock()
		statuses = append(statuses, CircuitStatus{
			ID:            id,
			State:         rec.state.String(),
			Failures:      len(rec.failures),
			LastFailureAt: rec.lastFailureAt,
		})
		rec.mu.Unlock()
	}
	return statuses
}
