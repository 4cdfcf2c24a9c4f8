package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"

	"github.com/ternarybob/arbor"
)

// JobStore persists training job records behind the registry
type JobStore interface {
	SaveJob(ctx context.Context, job *models.TrainingJob) error
	GetJob(ctx context.Context, trainingID string) (*models.TrainingJob, error)
	ListJobs(ctx context.Context) ([]*models.TrainingJob, error)
}

// EventStore records status transitions
type EventStore interface {
	CreateJobEvent(ctx context.Context, event models.JobEvent) error
	GetJobEvents(ctx context.Context, trainingID string, limit int) ([]models.JobEvent, error)
}

// JobRegistry owns every training job record. Each record has its own lock, so
// readers and writers of different jobs never contend, and every mutation of a
// record is applied as one atomic group.
//
// Invariants kept here rather than by callers:
//   - a terminal status never changes again
//   - Completed implies progress 100
//   - the process handle is cleared on entering a terminal status
//   - updatedAt never goes backwards
type JobRegistry struct {
	mu      sync.RWMutex
	entries map[string]*jobEntry

	store  JobStore
	events EventStore
	logger arbor.ILogger
	now    func() time.Time
}

type jobEntry struct {
	mu   sync.Mutex
	job  *models.TrainingJob
	done chan struct{}
}

// NewJobRegistry creates a new registry. events may be nil.
func NewJobRegistry(store JobStore, events EventStore, logger arbor.ILogger) *JobRegistry {
	return &JobRegistry{
		entries: make(map[string]*jobEntry),
		store:   store,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// Register adds a new record. The registry keeps its own copy.
func (r *JobRegistry) Register(ctx context.Context, job *models.TrainingJob) error {
	if job == nil || job.TrainingID == "" {
		return errs.Newf(errs.CodeInvalidInput, "training job requires an id")
	}

	record := job.Clone()
	now := r.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.Before(record.CreatedAt) {
		record.UpdatedAt = record.CreatedAt
	}
	normalize(record)

	entry := &jobEntry{job: record, done: make(chan struct{})}
	if record.Status.IsTerminal() {
		close(entry.done)
	}

	r.mu.Lock()
	if _, exists := r.entries[record.TrainingID]; exists {
		r.mu.Unlock()
		return errs.Newf(errs.CodeInvalidInput, "training job %s already registered", record.TrainingID)
	}
	r.entries[record.TrainingID] = entry
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	r.persist(ctx, record)
	r.recordEvent(ctx, record.TrainingID, nil, record.Status, "job_created")
	return nil
}

// Get returns a snapshot of the record
func (r *JobRegistry) Get(trainingID string) (*models.TrainingJob, error) {
	entry, err := r.entry(trainingID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.Clone(), nil
}

// List returns snapshots of every record, newest first
func (r *JobRegistry) List() []*models.TrainingJob {
	r.mu.RLock()
	entries := make([]*jobEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]*models.TrainingJob, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job.Clone())
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].TrainingID < jobs[j].TrainingID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Update applies fn to a copy of the record under the record's lock and commits
// the copy if fn succeeds. reason labels the status transition, if any.
func (r *JobRegistry) Update(
	ctx context.Context,
	trainingID string,
	reason string,
	fn func(job *models.TrainingJob) error,
) (*models.TrainingJob, error) {
	entry, err := r.entry(trainingID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	prev := entry.job
	next := prev.Clone()
	if err := fn(next); err != nil {
		return prev.Clone(), err
	}

	next.TrainingID = prev.TrainingID
	next.CreatedAt = prev.CreatedAt
	if prev.Status.IsTerminal() && next.Status != prev.Status {
		r.logger.Debug().
			Str("training_id", trainingID).
			Str("status", string(prev.Status)).
			Str("attempted", string(next.Status)).
			Msg("Ignoring transition out of terminal state")
		next.Status = prev.Status
	}
	normalize(next)
	if now := r.now(); now.After(prev.UpdatedAt) {
		next.UpdatedAt = now
	} else {
		next.UpdatedAt = prev.UpdatedAt
	}

	entry.job = next
	if next.Status != prev.Status {
		from := prev.Status
		r.recordEvent(ctx, trainingID, &from, next.Status, reason)
		r.logger.Info().
			Str("training_id", trainingID).
			Str("from", string(from)).
			Str("to", string(next.Status)).
			Str("reason", reason).
			Msg("Training job status changed")
		if next.Status.IsTerminal() {
			close(entry.done)
		}
	}
	r.persist(ctx, next)

	return next.Clone(), nil
}

// Done returns a channel closed once the record reaches a terminal status
func (r *JobRegistry) Done(trainingID string) (<-chan struct{}, error) {
	entry, err := r.entry(trainingID)
	if err != nil {
		return nil, err
	}
	return entry.done, nil
}

// Events returns the recorded transitions of a job, newest first
func (r *JobRegistry) Events(ctx context.Context, trainingID string, limit int) ([]models.JobEvent, error) {
	if _, err := r.entry(trainingID); err != nil {
		return nil, err
	}
	if r.events == nil {
		return []models.JobEvent{}, nil
	}
	return r.events.GetJobEvents(ctx, trainingID, limit)
}

// Restore loads records left in the store by an earlier process. Jobs that were
// still active have lost their monitor and are marked Failed.
func (r *JobRegistry) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	jobs, err := r.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored jobs: %w", err)
	}

	restored := 0
	for _, job := range jobs {
		r.mu.RLock()
		_, exists := r.entries[job.TrainingID]
		r.mu.RUnlock()
		if exists {
			continue
		}

		entry := &jobEntry{job: job.Clone(), done: make(chan struct{})}
		if !job.Status.IsTerminal() {
			from := job.Status
			entry.job.Status = models.TrainingStatusFailed
			entry.job.ErrorMessage = "monitoring lost across service restart"
			normalize(entry.job)
			entry.job.UpdatedAt = r.now()
			r.persist(ctx, entry.job)
			r.recordEvent(ctx, job.TrainingID, &from, entry.job.Status, "service_restarted")
		}
		close(entry.done)

		r.mu.Lock()
		r.entries[job.TrainingID] = entry
		r.mu.Unlock()
		restored++
	}
	return restored, nil
}

func (r *JobRegistry) entry(trainingID string) (*jobEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[trainingID]
	if !ok {
		return nil, errs.NotFound("training job", trainingID)
	}
	return entry, nil
}

// persist writes through to the store, even when the caller's context has been
// cancelled. The in-memory record stays authoritative when the store is unavailable.
func (r *JobRegistry) persist(ctx context.Context, job *models.TrainingJob) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		r.logger.Warn().Err(err).Str("training_id", job.TrainingID).Msg("Failed to persist training job")
	}
}

func (r *JobRegistry) recordEvent(ctx context.Context, trainingID string, from *models.TrainingStatus, to models.TrainingStatus, reason string) {
	if r.events == nil {
		return
	}
	event := models.JobEvent{
		TrainingID: trainingID,
		At:         r.now(),
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
	}
	if err := r.events.CreateJobEvent(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Warn().Err(err).Str("training_id", trainingID).Msg("Failed to record job event")
	}
}

func normalize(job *models.TrainingJob) {
	if job.Progress < 0 {
		job.Progress = 0
	}
	if job.Progress > 100 {
		job.Progress = 100
	}
	if job.Status == models.TrainingStatusCompleted {
		job.Progress = 100
	}
	if job.Status.IsTerminal() {
		job.ProcessHandle = ""
	}
	if len(job.Logs) > models.MaxLogLines {
		job.SetLogs(job.Logs)
	}
}

// ErrAlreadyTerminal is returned by update functions that refuse to act on a finished job
var ErrAlreadyTerminal = errors.New("training job already finished")
