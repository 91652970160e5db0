package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// PatternHandler serves municipality pattern suggestions
type PatternHandler struct {
	Deps
}

func NewPatternHandler(deps Deps) *PatternHandler {
	deps.defaults()
	return &PatternHandler{Deps: deps}
}

// GetPatterns handles GET /api/municipalities/{municipality}/patterns
func (h *PatternHandler) GetPatterns(w http.ResponseWriter, r *http.Request) {
	if h.Patterns == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "Pattern store not configured"})
		return
	}

	municipality := mux.Vars(r)["municipality"]
	summary, err := h.Patterns.Summary(r.Context(), municipality)
	if err != nil {
		h.Logger.Error("Failed to load patterns", zap.String("municipality", municipality), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Storage error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// HealthHandler reports liveness and, when a check is set, storage reachability
type HealthHandler struct {
	Check  func(ctx context.Context) error
	Logger *zap.Logger
}

// Health handles GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.Check(ctx); err != nil {
			if h.Logger != nil {
				h.Logger.Warn("Health check failed", zap.Error(err))
			}
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
