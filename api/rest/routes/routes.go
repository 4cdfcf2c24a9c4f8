package routes

import (
	"reasoning-trainer/api/rest/handlers"

	"github.com/gorilla/mux"
)

// Handlers groups every HTTP handler the router serves
type Handlers struct {
	Training  *handlers.TrainingHandler
	Prompts   *handlers.PromptHandler
	Models    *handlers.ModelHandler
	Datasets  *handlers.DatasetHandler
	Dashboard *handlers.DashboardHandler
	Health    *handlers.HealthHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(r *mux.Router, h Handlers) {
	// Training endpoints
	r.HandleFunc("/training/start", h.Training.StartTraining).Methods("POST")
	r.HandleFunc("/training/status/{id}", h.Training.GetTrainingStatus).Methods("GET")
	r.HandleFunc("/training/stop/{id}", h.Training.StopTraining).Methods("POST")
	r.HandleFunc("/training/jobs", h.Training.ListTrainingJobs).Methods("GET")
	r.HandleFunc("/training/{id}/events", h.Training.GetJobEvents).Methods("GET")

	// Prompt enhancement endpoints
	r.HandleFunc("/prompt/enhance", h.Prompts.Enhance).Methods("POST")
	r.HandleFunc("/prompt/enhance/stream", h.Prompts.EnhanceStream).Methods("POST")

	// Model endpoints
	r.HandleFunc("/model/versions", h.Models.ListVersions).Methods("GET")
	r.HandleFunc("/model/info", h.Models.GetInfo).Methods("GET")

	// Dataset endpoints
	r.HandleFunc("/data/upload", h.Datasets.Upload).Methods("POST")
	r.HandleFunc("/data/datasets", h.Datasets.ListDatasets).Methods("GET")
	r.HandleFunc("/data/dataset/{id}", h.Datasets.GetDataset).Methods("GET")

	// Dashboard endpoints
	r.HandleFunc("/dashboard/summary", h.Dashboard.GetSummary).Methods("GET")
	r.HandleFunc("/dashboard/costs", h.Dashboard.GetJobCosts).Methods("GET")
	r.HandleFunc("/metrics", h.Dashboard.GetMetrics).Methods("GET")

	r.HandleFunc("/health", h.Health.GetHealth).Methods("GET")
}
