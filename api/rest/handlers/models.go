package handlers

import (
	"net/http"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/monitoring"
)

// ModelHandler reports on base and fine-tuned models
type ModelHandler struct {
	trainer *executor.TrainingExecutor
	backend *monitoring.BackendChecker
}

// NewModelHandler creates a new model handler
func NewModelHandler(trainer *executor.TrainingExecutor, backend *monitoring.BackendChecker) *ModelHandler {
	return &ModelHandler{
		trainer: trainer,
		backend: backend,
	}
}

// ListVersions handles GET /model/versions
func (h *ModelHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"versions": h.trainer.ListModelVersions(r.Context()),
	})
}

// GetInfo handles GET /model/info
func (h *ModelHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.backend.ModelInfo(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"model": info.Model,
			"error": err.Error(),
		})
		return
	}
	info.Versions = h.trainer.ListModelVersions(r.Context())
	writeJSON(w, http.StatusOK, info)
}
