package api

import (
	"net/http"
	"strconv"
)

// HistoryHandler serves recent feeding attempts.
type HistoryHandler struct {
	history  HistoryReader
	maxLimit int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(history HistoryReader, maxLimit int) *HistoryHandler {
	return &HistoryHandler{
		history:  history,
		maxLimit: maxLimit,
	}
}

// HandleGetHistory handles GET /history?limit=N requests. limit defaults to 20.
func (h *HistoryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_history"
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", opError(op, ErrMethodNotAllowed))
		return
	}
	n := min(20, h.maxLimit)
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", opError(op, ErrBadRequest))
			return
		}
	}
	if n > h.maxLimit {
		writeError(w, http.StatusBadRequest, "limit_exceeded", opError(op, ErrLimitExceeded))
		return
	}
	attempts, err := h.history.Recent(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", opError(op, err))
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}
