package monitoring

import (
	"context"
	"sync"
	"time"

	"reasoning-trainer/core/models"
	"reasoning-trainer/core/repository"

	"github.com/ternarybob/arbor"
)

// CostTracker accrues backend host cost for running training jobs
type CostTracker struct {
	registry    *repository.JobRegistry
	hourlyPrice float64
	interval    time.Duration
	logger      arbor.ILogger
	now         func() time.Time

	mu       sync.RWMutex
	jobCosts map[string]*JobCost
}

// JobCost tracks cost for a single job
type JobCost struct {
	TrainingID  string
	StartTime   time.Time
	RunningCost float64
	LastUpdate  time.Time
	Final       bool
}

// NewCostTracker creates a new cost tracker charging hourlyPrice per running job
func NewCostTracker(registry *repository.JobRegistry, hourlyPrice float64, interval time.Duration, logger arbor.ILogger) *CostTracker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &CostTracker{
		registry:    registry,
		hourlyPrice: hourlyPrice,
		interval:    interval,
		logger:      logger,
		now:         time.Now,
		jobCosts:    make(map[string]*JobCost),
	}
}

// Start runs the accrual loop until ctx is cancelled
func (ct *CostTracker) Start(ctx context.Context) {
	ticker := time.NewTicker(ct.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ct.UpdateAll()
		}
	}
}

// UpdateAll accrues cost for every job in the registry
func (ct *CostTracker) UpdateAll() {
	for _, job := range ct.registry.List() {
		ct.update(job)
	}
}

func (ct *CostTracker) update(job *models.TrainingJob) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	cost, tracked := ct.jobCosts[job.TrainingID]
	switch {
	case job.Status == models.TrainingStatusRunning && !tracked:
		ct.jobCosts[job.TrainingID] = &JobCost{
			TrainingID: job.TrainingID,
			StartTime:  job.CreatedAt,
			LastUpdate: job.CreatedAt,
		}
		cost = ct.jobCosts[job.TrainingID]
	case !tracked || cost.Final:
		return
	}

	until := ct.now()
	if job.Status.IsTerminal() {
		until = job.UpdatedAt
		cost.Final = true
		ct.logger.Debug().
			Str("training_id", job.TrainingID).
			Float64("cost_usd", cost.RunningCost).
			Msg("Finalised job cost")
	}
	if until.After(cost.LastUpdate) {
		cost.RunningCost += ct.hourlyPrice * until.Sub(cost.LastUpdate).Hours()
		cost.LastUpdate = until
	}
}

// GetRunningCost returns the accrued cost for a job
func (ct *CostTracker) GetRunningCost(trainingID string) float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	jobCost, exists := ct.jobCosts[trainingID]
	if !exists {
		return 0.0
	}
	return jobCost.RunningCost
}

// TotalCost returns the accrued cost across all jobs
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	total := 0.0
	for _, c := range ct.jobCosts {
		total += c.RunningCost
	}
	return total
}

// HourlyPrice returns the rate charged per running job
func (ct *CostTracker) HourlyPrice() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.hourlyPrice
}

// SetHourlyPrice changes the rate for cost accrued from now on
func (ct *CostTracker) SetHourlyPrice(price float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.hourlyPrice = price
}
