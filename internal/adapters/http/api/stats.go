package api

import (
	"context"
	"net/http"
)

// StatsProvider reports the feeder's runtime state: lifecycle, queue depth,
// per-species cooldowns and feeding counters.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]any
}

// StatsHandler serves GET /stats.
type StatsHandler struct {
	provider StatsProvider
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider}
}

// HandleStats writes the provider's snapshot as JSON.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	const op = "api.stats"
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", opError(op, ErrMethodNotAllowed))
		return
	}
	writeJSON(w, http.StatusOK, h.provider.GetStats(r.Context()))
}
