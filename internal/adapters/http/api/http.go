// Package api serves the local HTTP surface of the feeder: metrics, stats,
// settings and feeding history.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/iotreat/internal/domain/configsync"
	"github.com/okian/iotreat/internal/domain/model"
	"github.com/okian/iotreat/internal/domain/settings"
	"github.com/okian/iotreat/internal/domain/species"
)

const defaultMaxHistoryLimit = 100

// SettingsService reads and updates live settings. POST /settings goes through
// the same path as the MQTT settings topic.
type SettingsService interface {
	Settings() map[species.Species]settings.SpeciesSettings
	ApplyConfig(ctx context.Context, raw []byte) (configsync.Updated, error)
}

// HistoryReader exposes recent feeding attempts.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]model.Attempt, error)
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxHistoryLimit caps GET /history?limit.
func WithMaxHistoryLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxHistoryLimit = n
		}
	}
}

// Server wires HTTP routes for the feeder API.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	settingsHandler *SettingsHandler
	historyHandler  *HistoryHandler
	maxHistoryLimit int
}

// NewServer creates a new API server with all handlers.
func NewServer(stats StatsProvider, svc SettingsService, history HistoryReader, opts ...Option) *Server {
	s := &Server{maxHistoryLimit: defaultMaxHistoryLimit}
	for _, opt := range opts {
		opt(s)
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(stats)
	s.settingsHandler = NewSettingsHandler(svc)
	s.historyHandler = NewHistoryHandler(history, s.maxHistoryLimit)
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/settings", MetricsMiddleware(s.settingsHandler.HandleSettings, "settings"))
	mux.HandleFunc("/history", MetricsMiddleware(s.historyHandler.HandleGetHistory, "history"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
