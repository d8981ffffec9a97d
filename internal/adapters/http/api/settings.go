package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/okian/iotreat/internal/domain/configsync"
)

// maxSettingsBody bounds POST /settings payloads.
const maxSettingsBody = 64 << 10

// SettingsHandler serves GET and POST /settings.
type SettingsHandler struct {
	svc SettingsService
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(svc SettingsService) *SettingsHandler {
	return &SettingsHandler{svc: svc}
}

type updateResponse struct {
	Updated configsync.Updated `json:"updated"`
}

// HandleSettings returns the current settings on GET and applies a config
// update message on POST. The POST response carries exactly what changed.
func (h *SettingsHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	const op = "api.settings"
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.svc.Settings())
	case http.MethodPost:
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", opError(op, ErrBadRequest))
			return
		}
		updated, err := h.svc.ApplyConfig(r.Context(), raw)
		if err != nil {
			if errors.Is(err, configsync.ErrMalformedMessage) {
				writeError(w, http.StatusBadRequest, "malformed_message", opError(op, err))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", opError(op, err))
			return
		}
		if updated == nil {
			updated = configsync.Updated{}
		}
		writeJSON(w, http.StatusOK, updateResponse{Updated: updated})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", opError(op, ErrMethodNotAllowed))
	}
}
