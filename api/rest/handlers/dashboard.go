package handlers

import (
	"net/http"
	"strconv"
	"time"

	"reasoning-trainer/core/models"
	"reasoning-trainer/core/monitoring"
	"reasoning-trainer/core/repository"
)

// DashboardHandler handles dashboard API requests
type DashboardHandler struct {
	registry    *repository.JobRegistry
	costTracker *monitoring.CostTracker
	metrics     *monitoring.MetricsExporter
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	registry *repository.JobRegistry,
	costTracker *monitoring.CostTracker,
	metrics *monitoring.MetricsExporter,
) *DashboardHandler {
	return &DashboardHandler{
		registry:    registry,
		costTracker: costTracker,
		metrics:     metrics,
	}
}

// GetSummary handles GET /dashboard/summary. Jobs are counted by status and
// costed within [start_date, end_date], defaulting to the last 30 days.
func (h *DashboardHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	start := time.Now().AddDate(0, 0, -30)
	end := time.Now()
	if startDate := r.URL.Query().Get("start_date"); startDate != "" {
		parsed, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			badRequest(w, "Invalid start_date format")
			return
		}
		start = parsed
	}
	if endDate := r.URL.Query().Get("end_date"); endDate != "" {
		parsed, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			badRequest(w, "Invalid end_date format")
			return
		}
		end = parsed
	}

	counts := make(map[models.TrainingStatus]int)
	runningCost := 0.0
	finishedCost := 0.0
	for _, job := range h.registry.List() {
		if job.CreatedAt.Before(start) || job.CreatedAt.After(end) {
			continue
		}
		counts[job.Status]++

		cost := h.costTracker.GetRunningCost(job.TrainingID)
		if job.Status == models.TrainingStatusRunning {
			runningCost += cost
		} else {
			finishedCost += cost
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"period": map[string]interface{}{
			"start": start.Format(time.RFC3339),
			"end":   end.Format(time.RFC3339),
		},
		"costs": map[string]interface{}{
			"hourly_price_usd": h.costTracker.HourlyPrice(),
			"running_usd":      runningCost,
			"finished_usd":     finishedCost,
			"total_usd":        runningCost + finishedCost,
		},
		"jobs": counts,
	})
}

// GetJobCosts handles GET /dashboard/costs
func (h *DashboardHandler) GetJobCosts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	jobs := h.registry.List()
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	items := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, map[string]interface{}{
			"training_id":   job.TrainingID,
			"model_version": job.ModelVersion,
			"status":        job.Status,
			"cost_usd":      h.costTracker.GetRunningCost(job.TrainingID),
			"created_at":    job.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
	})
}

// GetMetrics handles GET /metrics in the Prometheus text format
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(h.metrics.GetPrometheusMetrics()))
}
