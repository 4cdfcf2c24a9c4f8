package monitoring

import (
	"fmt"
	"strings"

	"reasoning-trainer/core/models"
	"reasoning-trainer/core/repository"
)

// MetricsExporter renders training job metrics in the Prometheus text format
type MetricsExporter struct {
	registry    *repository.JobRegistry
	costTracker *CostTracker
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter(registry *repository.JobRegistry, costTracker *CostTracker) *MetricsExporter {
	return &MetricsExporter{
		registry:    registry,
		costTracker: costTracker,
	}
}

var exportedStatuses = []models.TrainingStatus{
	models.TrainingStatusPending,
	models.TrainingStatusRunning,
	models.TrainingStatusCompleted,
	models.TrainingStatusFailed,
	models.TrainingStatusStopped,
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	jobs := me.registry.List()
	var b strings.Builder

	counts := make(map[models.TrainingStatus]int)
	for _, job := range jobs {
		counts[job.Status]++
	}
	b.WriteString("# HELP trainer_jobs Number of training jobs by status\n")
	b.WriteString("# TYPE trainer_jobs gauge\n")
	for _, status := range exportedStatuses {
		fmt.Fprintf(&b, "trainer_jobs{status=%q} %d\n", status, counts[status])
	}

	b.WriteString("# HELP trainer_job_progress_percent Training progress of running jobs\n")
	b.WriteString("# TYPE trainer_job_progress_percent gauge\n")
	for _, job := range jobs {
		if job.Status != models.TrainingStatusRunning {
			continue
		}
		fmt.Fprintf(&b, "trainer_job_progress_percent{training_id=%q} %.2f\n", job.TrainingID, job.Progress)
	}

	b.WriteString("# HELP trainer_job_epoch Current epoch of running jobs\n")
	b.WriteString("# TYPE trainer_job_epoch gauge\n")
	for _, job := range jobs {
		if job.Status != models.TrainingStatusRunning {
			continue
		}
		fmt.Fprintf(&b, "trainer_job_epoch{training_id=%q} %d\n", job.TrainingID, job.CurrentEpoch)
	}

	b.WriteString("# HELP trainer_job_loss Last observed training loss\n")
	b.WriteString("# TYPE trainer_job_loss gauge\n")
	for _, job := range jobs {
		if job.Status != models.TrainingStatusRunning || job.Loss == nil {
			continue
		}
		fmt.Fprintf(&b, "trainer_job_loss{training_id=%q} %g\n", job.TrainingID, *job.Loss)
	}

	if me.costTracker != nil {
		b.WriteString("# HELP trainer_job_cost_usd Accrued backend cost per job\n")
		b.WriteString("# TYPE trainer_job_cost_usd gauge\n")
		for _, job := range jobs {
			fmt.Fprintf(&b, "trainer_job_cost_usd{training_id=%q} %.4f\n", job.TrainingID, me.costTracker.GetRunningCost(job.TrainingID))
		}
		b.WriteString("# HELP trainer_total_cost_usd Accrued backend cost across all jobs\n")
		b.WriteString("# TYPE trainer_total_cost_usd gauge\n")
		fmt.Fprintf(&b, "trainer_total_cost_usd %.4f\n", me.costTracker.TotalCost())
	}

	return b.String()
}

// StatusCounts returns the number of jobs in each status
func (me *MetricsExporter) StatusCounts() map[models.TrainingStatus]int {
	counts := make(map[models.TrainingStatus]int, len(exportedStatuses))
	for _, status := range exportedStatuses {
		counts[status] = 0
	}
	for _, job := range me.registry.List() {
		counts[job.Status]++
	}
	return counts
}
