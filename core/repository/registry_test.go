package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/logging"
	"reasoning-trainer/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) (*JobRegistry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewJobRegistry(store, store, logging.Nop()), store
}

func runningJob(id string) *models.TrainingJob {
	return &models.TrainingJob{
		TrainingID:    id,
		JobID:         "job-" + id,
		Status:        models.TrainingStatusRunning,
		TotalEpochs:   3,
		ProcessHandle: "4242",
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	ctx := context.Background()
	reg, store := newTestRegistry(t)

	job := runningJob("a")
	require.NoError(t, reg.Register(ctx, job))

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusRunning, got.Status)
	assert.False(t, got.CreatedAt.IsZero())

	// caller's copy is detached from the registry
	job.Status = models.TrainingStatusFailed
	got, _ = reg.Get("a")
	assert.Equal(t, models.TrainingStatusRunning, got.Status)

	stored, err := store.GetJob(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "job-a", stored.JobID)

	assert.Error(t, reg.Register(ctx, runningJob("a")))
}

func TestRegistryGetUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Get("missing")
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))

	_, err = reg.Update(context.Background(), "missing", "x", func(*models.TrainingJob) error { return nil })
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestRegistryUpdateIsAtomic(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))

	boom := errors.New("boom")
	_, err := reg.Update(ctx, "a", "partial", func(j *models.TrainingJob) error {
		j.Progress = 50
		j.CurrentEpoch = 2
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, _ := reg.Get("a")
	assert.Equal(t, 0.0, got.Progress)
	assert.Equal(t, 0, got.CurrentEpoch)
}

func TestRegistryTerminalIsMonotonic(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))

	got, err := reg.Update(ctx, "a", "user_stopped", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusStopped
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusStopped, got.Status)
	assert.Empty(t, got.ProcessHandle)

	got, err = reg.Update(ctx, "a", "late_completion", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusCompleted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusStopped, got.Status)
}

func TestRegistryCompletedImpliesFullProgress(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))

	got, err := reg.Update(ctx, "a", "training_completed", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusCompleted
		j.Progress = 66
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Progress)
}

func TestRegistryUpdatedAtNeverGoesBack(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return base }
	require.NoError(t, reg.Register(ctx, runningJob("a")))

	reg.now = func() time.Time { return base.Add(-time.Hour) }
	got, err := reg.Update(ctx, "a", "", func(j *models.TrainingJob) error { j.Progress = 10; return nil })
	require.NoError(t, err)
	assert.Equal(t, base, got.UpdatedAt)
}

func TestRegistryDoneClosesOnTerminal(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))

	done, err := reg.Done("a")
	require.NoError(t, err)
	select {
	case <-done:
		t.Fatal("done closed before terminal state")
	default:
	}

	_, err = reg.Update(ctx, "a", "process_died", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusFailed
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("done not closed after terminal state")
	}

	// a second terminal update must not close the channel again
	_, err = reg.Update(ctx, "a", "again", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusStopped
		return nil
	})
	require.NoError(t, err)
}

func TestRegistryRecordsEvents(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))
	_, err := reg.Update(ctx, "a", "user_stopped", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusStopped
		return nil
	})
	require.NoError(t, err)

	events, err := reg.Events(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.TrainingStatusStopped, events[0].ToStatus)
	assert.Equal(t, "user_stopped", events[0].Reason)
	require.NotNil(t, events[0].FromStatus)
	assert.Equal(t, models.TrainingStatusRunning, *events[0].FromStatus)
	assert.Nil(t, events[1].FromStatus)
}

func TestRegistryConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	require.NoError(t, reg.Register(ctx, runningJob("a")))
	require.NoError(t, reg.Register(ctx, runningJob("b")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, id := range []string{"a", "b"} {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, _ = reg.Update(ctx, id, "", func(j *models.TrainingJob) error {
					j.CurrentEpoch++
					return nil
				})
				_, _ = reg.Get(id)
			}(id)
		}
	}
	wg.Wait()

	a, _ := reg.Get("a")
	b, _ := reg.Get("b")
	assert.Equal(t, 50, a.CurrentEpoch)
	assert.Equal(t, 50, b.CurrentEpoch)
}

func TestRegistryListNewestFirst(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	old := runningJob("old")
	old.CreatedAt = base
	recent := runningJob("recent")
	recent.CreatedAt = base.Add(time.Hour)
	require.NoError(t, reg.Register(ctx, old))
	require.NoError(t, reg.Register(ctx, recent))

	jobs := reg.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, "recent", jobs[0].TrainingID)
	assert.Equal(t, "old", jobs[1].TrainingID)
}

func TestRegistryRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveJob(ctx, runningJob("active")))
	finished := runningJob("finished")
	finished.Status = models.TrainingStatusCompleted
	finished.Progress = 100
	require.NoError(t, store.SaveJob(ctx, finished))

	reg := NewJobRegistry(store, store, logging.Nop())
	n, err := reg.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := reg.Get("active")
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusFailed, active.Status)
	assert.Empty(t, active.ProcessHandle)

	done, _ := reg.Done("active")
	select {
	case <-done:
	default:
		t.Fatal("restored job should be finished")
	}

	got, _ := reg.Get("finished")
	assert.Equal(t, models.TrainingStatusCompleted, got.Status)
}
