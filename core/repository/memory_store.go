package repository

import (
	"context"
	"sort"
	"sync"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"
)

// MemoryStore keeps jobs, events and dataset metadata in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	jobs     map[string]*models.TrainingJob
	events   []models.JobEvent
	datasets map[string]models.DatasetInfo
	nextID   int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:     make(map[string]*models.TrainingJob),
		datasets: make(map[string]models.DatasetInfo),
	}
}

// SaveJob upserts a job
func (s *MemoryStore) SaveJob(_ context.Context, job *models.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.TrainingID] = job.Clone()
	return nil
}

// GetJob returns a stored job
func (s *MemoryStore) GetJob(_ context.Context, trainingID string) (*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[trainingID]
	if !ok {
		return nil, errs.NotFound("training job", trainingID)
	}
	return job.Clone(), nil
}

// ListJobs returns every stored job, newest first
func (s *MemoryStore) ListJobs(_ context.Context) ([]*models.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]*models.TrainingJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return jobs, nil
}

// CreateJobEvent appends an event
func (s *MemoryStore) CreateJobEvent(_ context.Context, event models.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	s.events = append(s.events, event)
	return nil
}

// GetJobEvents returns events for a job, newest first
func (s *MemoryStore) GetJobEvents(_ context.Context, trainingID string, limit int) ([]models.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := []models.JobEvent{}
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].TrainingID != trainingID {
			continue
		}
		events = append(events, s.events[i])
		if limit > 0 && len(events) == limit {
			break
		}
	}
	return events, nil
}

// CreateDataset stores dataset metadata
func (s *MemoryStore) CreateDataset(_ context.Context, info models.DatasetInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[info.ID] = info
	return nil
}

// GetDataset returns dataset metadata
func (s *MemoryStore) GetDataset(_ context.Context, id string) (*models.DatasetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.datasets[id]
	if !ok {
		return nil, errs.NotFound("dataset", id)
	}
	return &info, nil
}

// ListDatasets returns dataset metadata, newest first
func (s *MemoryStore) ListDatasets(_ context.Context) ([]models.DatasetInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DatasetInfo, 0, len(s.datasets))
	for _, info := range s.datasets {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
