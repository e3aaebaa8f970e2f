package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthHandler reports liveness and database connectivity.
type HealthHandler struct {
	Ping func(ctx context.Context) error
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Ping(ctx); err != nil {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status":   "error",
			"database": "disconnected",
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
}
