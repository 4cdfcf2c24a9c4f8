package handlers

import (
	"net/http"

	"reasoning-trainer/core/monitoring"
)

// HealthHandler reports service and backend health
type HealthHandler struct {
	backend *monitoring.BackendChecker
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(backend *monitoring.BackendChecker) *HealthHandler {
	return &HealthHandler{backend: backend}
}

// GetHealth handles GET /health. The service answers 200 while the backend is
// down; the backend section says so.
func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	backend := h.backend.Status(r.Context())

	status := "healthy"
	if !backend.Reachable || !backend.ModelLoaded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"backend": backend,
	})
}
