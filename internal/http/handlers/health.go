package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Pinger reports whether the database is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health
type HealthHandler struct {
	db Pinger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db Pinger) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		slog.ErrorContext(r.Context(), "health check failed",
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		respondJSON(w, r, http.StatusServiceUnavailable, map[string]bool{"ok": false})
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}
