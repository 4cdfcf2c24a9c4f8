package handlers

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/spec"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"
)

const maxTrainingBody = 32 << 20

// TrainingHandler handles training job HTTP requests
type TrainingHandler struct {
	trainer *executor.TrainingExecutor
	logger  arbor.ILogger
}

// NewTrainingHandler creates a new training handler
func NewTrainingHandler(trainer *executor.TrainingExecutor, logger arbor.ILogger) *TrainingHandler {
	return &TrainingHandler{
		trainer: trainer,
		logger:  logger,
	}
}

// StartTraining handles POST /training/start. The body is a JSON training
// request, or a YAML training spec when the content type says so.
func (h *TrainingHandler) StartTraining(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTrainingBody))
	if err != nil {
		badRequest(w, "Failed to read request body")
		return
	}

	var req models.TrainingRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-yaml", "application/yaml":
		parsed, err := spec.ParseTrainingSpec(body)
		if err != nil {
			writeError(w, err)
			return
		}
		req = *parsed
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			badRequest(w, "Invalid request body")
			return
		}
	}

	job, err := h.trainer.StartTraining(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to start training")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"training_id":   job.TrainingID,
		"job_id":        job.JobID,
		"status":        job.Status,
		"model_version": job.ModelVersion,
		"example_count": job.ExampleCount,
		"created_at":    job.CreatedAt,
	})
}

// GetTrainingStatus handles GET /training/status/{id}
func (h *TrainingHandler) GetTrainingStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.trainer.GetTrainingStatus(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StopTraining handles POST /training/stop/{id}
func (h *TrainingHandler) StopTraining(w http.ResponseWriter, r *http.Request) {
	job, err := h.trainer.StopTraining(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListTrainingJobs handles GET /training/jobs
func (h *TrainingHandler) ListTrainingJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.trainer.ListTrainingJobs()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := jobs[:0]
		for _, job := range jobs {
			if string(job.Status) == status {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": jobs,
	})
}

// GetJobEvents handles GET /training/{id}/events
func (h *TrainingHandler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	events, err := h.trainer.JobEvents(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": events,
	})
}
