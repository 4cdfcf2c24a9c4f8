package monitoring_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/logging"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/monitoring"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/core/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, fake *testutil.FakeExecutor) (*repository.JobRegistry, *monitoring.JobMonitor) {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := repository.NewJobRegistry(store, store, logging.Nop())
	monitor := monitoring.NewJobMonitor(registry, fake, 5*time.Millisecond, 10*time.Millisecond, logging.Nop())

	require.NoError(t, registry.Register(context.Background(), &models.TrainingJob{
		TrainingID:    "t1",
		JobID:         "j1",
		Status:        models.TrainingStatusRunning,
		TotalEpochs:   5,
		ProcessHandle: "4242",
		WorkDir:       "/tmp/training_t1",
	}))
	return registry, monitor
}

func waitTerminal(t *testing.T, registry *repository.JobRegistry, id string) *models.TrainingJob {
	t.Helper()
	done, err := registry.Done(id)
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not reach a terminal state")
	}
	job, err := registry.Get(id)
	require.NoError(t, err)
	return job
}

func TestMonitorMarksDeadProcessFailed(t *testing.T) {
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.HasPrefix(command, "ps -p") {
				return executor.CommandResult{Success: false, ExitCode: 1}, nil
			}
			return executor.CommandResult{Success: true, Stdout: "Loading model\n"}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	job := waitTerminal(t, registry, "t1")
	monitor.Wait()

	assert.Equal(t, models.TrainingStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "4242")
	assert.Empty(t, job.ProcessHandle)
}

func TestMonitorDetectsCompletion(t *testing.T) {
	var cycles atomic.Int32
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.HasPrefix(command, "ps -p") {
				return executor.CommandResult{Success: true}, nil
			}
			if cycles.Add(1) < 2 {
				return executor.CommandResult{Success: true, Stdout: "Epoch 2/5 - Loss: 1.2345\n"}, nil
			}
			return executor.CommandResult{Success: true, Stdout: "Epoch 5/5 - Loss: 0.5\nTraining completed. Model saved\n"}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	job := waitTerminal(t, registry, "t1")
	monitor.Wait()

	assert.Equal(t, models.TrainingStatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 5, job.CurrentEpoch)
	require.NotNil(t, job.Loss)
	assert.InDelta(t, 0.5, *job.Loss, 1e-9)
	assert.Equal(t, []string{"Epoch 5/5 - Loss: 0.5", "Training completed. Model saved"}, job.Logs)
}

func TestMonitorCompletedProcessThatExited(t *testing.T) {
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.HasPrefix(command, "ps -p") {
				return executor.CommandResult{Success: false, ExitCode: 1}, nil
			}
			return executor.CommandResult{Success: true, Stdout: "Training completed. Model saved\n"}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	job := waitTerminal(t, registry, "t1")

	assert.Equal(t, models.TrainingStatusCompleted, job.Status)
}

func TestMonitorBacksOffOnTransportErrors(t *testing.T) {
	var probes atomic.Int32
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.HasPrefix(command, "ps -p") {
				if probes.Add(1) <= 2 {
					return executor.CommandResult{}, errors.New("dial tcp: connection refused")
				}
				return executor.CommandResult{Success: false, ExitCode: 1}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	job := waitTerminal(t, registry, "t1")

	// transport errors never fail the job on their own
	assert.GreaterOrEqual(t, probes.Load(), int32(3))
	assert.Equal(t, models.TrainingStatusFailed, job.Status)
}

func TestMonitorExitsWhenJobStoppedElsewhere(t *testing.T) {
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(ctx context.Context, command string) (executor.CommandResult, error) {
			return executor.CommandResult{Success: true}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	monitor.Watch(context.Background(), "t1")
	assert.Equal(t, 1, monitor.Active())

	_, err := registry.Update(context.Background(), "t1", "user_stopped", func(j *models.TrainingJob) error {
		j.Status = models.TrainingStatusStopped
		return nil
	})
	require.NoError(t, err)

	exited := make(chan struct{})
	go func() {
		monitor.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit after terminal transition")
	}

	job, _ := registry.Get("t1")
	assert.Equal(t, models.TrainingStatusStopped, job.Status)
}

func TestMonitorSurvivesPanics(t *testing.T) {
	var calls atomic.Int32
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if calls.Add(1) == 1 {
				panic("unexpected")
			}
			if strings.HasPrefix(command, "ps -p") {
				return executor.CommandResult{Success: false, ExitCode: 1}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
	registry, monitor := setup(t, fake)

	monitor.Watch(context.Background(), "t1")
	job := waitTerminal(t, registry, "t1")
	assert.Equal(t, models.TrainingStatusFailed, job.Status)
}

func TestMonitorStopsWithParentContext(t *testing.T) {
	fake := &testutil.FakeExecutor{}
	_, monitor := setup(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Watch(ctx, "t1")
	cancel()

	exited := make(chan struct{})
	go func() {
		monitor.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not exit after cancellation")
	}
}

func TestRefreshLogsKeepsLastLines(t *testing.T) {
	var out strings.Builder
	for i := 0; i < 25; i++ {
		out.WriteString("line\n")
	}
	out.WriteString("Epoch 3/5 - Loss: 0.9\n")
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			return executor.CommandResult{Success: true, Stdout: out.String()}, nil
		},
	}
	registry, monitor := setup(t, fake)

	job, err := monitor.RefreshLogs(context.Background(), "t1")
	require.NoError(t, err)
	assert.Len(t, job.Logs, models.MaxLogLines)
	assert.Equal(t, "Epoch 3/5 - Loss: 0.9", job.Logs[len(job.Logs)-1])
	assert.InDelta(t, 60.0, job.Progress, 1e-9)

	cmds := fake.CommandsContaining("tail -n 20")
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "/tmp/training_t1/training.log")

	stored, _ := registry.Get("t1")
	assert.Equal(t, models.TrainingStatusRunning, stored.Status)
}

func TestRefreshLogsSerializesPerJob(t *testing.T) {
	var (
		tails    atomic.Int32
		inFlight atomic.Int32
		maxSeen  atomic.Int32
	)
	fake := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				seen := maxSeen.Load()
				if n <= seen || maxSeen.CompareAndSwap(seen, n) {
					break
				}
			}

			epoch := tails.Add(1)
			// earlier reads finish later
			time.Sleep(time.Duration(5-epoch) * 10 * time.Millisecond)
			return executor.CommandResult{Success: true, Stdout: fmt.Sprintf("Epoch %d/5 - Loss: 1.0\n", epoch)}, nil
		},
	}
	registry, monitor := setup(t, fake)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := monitor.RefreshLogs(context.Background(), "t1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	job, err := registry.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, 4, job.CurrentEpoch)
	assert.Equal(t, []string{"Epoch 4/5 - Loss: 1.0"}, job.Logs)
}
