package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/logging"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/monitoring"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/core/testutil"
	"reasoning-trainer/training/frameworks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	remote   *testutil.FakeExecutor
	registry *repository.JobRegistry
	monitor  *monitoring.JobMonitor
	trainer  *executor.TrainingExecutor
}

func newFixture(t *testing.T, remote *testutil.FakeExecutor, datasets executor.DatasetLoader) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	registry := repository.NewJobRegistry(store, store, logging.Nop())
	monitor := monitoring.NewJobMonitor(registry, remote, time.Hour, time.Hour, logging.Nop())
	t.Cleanup(monitor.Shutdown)

	trainer := executor.NewTrainingExecutor(remote, registry, monitor, datasets, executor.TrainingPaths{
		WorkRoot:         "/tmp",
		TrainedModelsDir: "/opt/models/trained",
		BaseModelPath:    "/opt/models/gpt-oss-20b",
		PythonBin:        "python3",
	}, logging.Nop())

	return &fixture{remote: remote, registry: registry, monitor: monitor, trainer: trainer}
}

// launchingRemote answers the launch command with a pid and succeeds everything else
func launchingRemote() *testutil.FakeExecutor {
	return &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			if strings.Contains(command, "nohup") {
				return executor.CommandResult{Success: true, Stdout: "4242\n"}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
}

func sampleRequest() models.TrainingRequest {
	return models.TrainingRequest{
		TrainingData: []models.TrainingDataItem{
			{
				InputPrompt:    "Solve x; rm -rf / $(whoami)",
				EnhancedPrompt: "Break the problem into steps, then solve for x.",
				Category:       "reasoning",
			},
		},
	}
}

func TestStartTrainingRegistersRunningJob(t *testing.T) {
	f := newFixture(t, launchingRemote(), nil)
	ctx := context.Background()

	job, err := f.trainer.StartTraining(ctx, sampleRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, job.TrainingID)
	assert.NotEmpty(t, job.JobID)
	assert.NotEqual(t, job.TrainingID, job.JobID)
	assert.Equal(t, models.TrainingStatusRunning, job.Status)
	assert.Equal(t, 0.0, job.Progress)
	assert.Equal(t, 0, job.CurrentEpoch)
	assert.Equal(t, 3, job.TotalEpochs)
	assert.Equal(t, 1, job.ExampleCount)
	assert.Equal(t, "/tmp/training_"+job.TrainingID, job.WorkDir)
	assert.Equal(t, executor.ModelVersionPrefix+job.TrainingID, job.ModelVersion)

	status, err := f.trainer.GetTrainingStatus(ctx, job.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusRunning, status.Status)
	assert.Equal(t, 0.0, status.Progress)
	assert.Equal(t, 0, status.CurrentEpoch)

	cmds := f.remote.Commands()
	require.GreaterOrEqual(t, len(cmds), 6)
	assert.True(t, strings.HasPrefix(cmds[0], "mkdir -p "))
	assert.Contains(t, cmds[1], "training_data.json")
	assert.Contains(t, cmds[2], "job_config.json")
	assert.Contains(t, cmds[3], "train_reasoning_enhancer.py")
	assert.True(t, strings.HasPrefix(cmds[4], "chmod +x "))
	assert.Contains(t, cmds[5], "nohup")

	for _, c := range cmds {
		assert.NotContains(t, c, "whoami", "user text must never reach the remote shell")
	}

	data, ok := f.remote.Input(cmds[1])
	require.True(t, ok)
	assert.Contains(t, string(data), "$(whoami)")
	_, ok = f.remote.Input(cmds[0])
	assert.False(t, ok)
}

func TestStartTrainingRejectsEmptyData(t *testing.T) {
	f := newFixture(t, launchingRemote(), nil)

	_, err := f.trainer.StartTraining(context.Background(), models.TrainingRequest{})
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidInput))
	assert.Empty(t, f.remote.Commands())
	assert.Empty(t, f.registry.List())
}

func TestStartTrainingRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, launchingRemote(), nil)
	req := sampleRequest()
	req.TrainingConfig.NumEpochs = -1

	_, err := f.trainer.StartTraining(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeInvalidInput))
	assert.Empty(t, f.registry.List())
}

func TestStartTrainingLaunchFailures(t *testing.T) {
	tests := []struct {
		name      string
		execute   func(command string) (executor.CommandResult, error)
		transport bool
	}{
		{
			name: "mkdir unreachable",
			execute: func(command string) (executor.CommandResult, error) {
				return executor.CommandResult{}, errors.New("dial tcp: connection refused")
			},
			transport: true,
		},
		{
			name: "write fails",
			execute: func(command string) (executor.CommandResult, error) {
				if strings.HasPrefix(command, "cat > ") {
					return executor.CommandResult{Success: false, ExitCode: 1, Stderr: "No space left on device"}, nil
				}
				return executor.CommandResult{Success: true}, nil
			},
		},
		{
			name: "launch prints no pid",
			execute: func(command string) (executor.CommandResult, error) {
				return executor.CommandResult{Success: true, Stdout: "\n"}, nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := &testutil.FakeExecutor{
				ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
					return tt.execute(command)
				},
			}
			f := newFixture(t, remote, nil)

			_, err := f.trainer.StartTraining(context.Background(), sampleRequest())
			require.Error(t, err)
			assert.True(t, errs.IsCode(err, errs.CodeLaunchFailure))
			assert.Equal(t, tt.transport, errs.IsCode(err, errs.CodeTransportFailure))
			assert.Empty(t, f.registry.List())
			assert.Equal(t, 0, f.monitor.Active())
		})
	}
}

type stubDatasets struct {
	items []models.TrainingDataItem
	err   error
}

func (s stubDatasets) LoadForTraining(_ context.Context, _ string) ([]models.TrainingDataItem, error) {
	return s.items, s.err
}

func TestStartTrainingFromDataset(t *testing.T) {
	datasets := stubDatasets{items: sampleRequest().TrainingData}
	f := newFixture(t, launchingRemote(), datasets)

	job, err := f.trainer.StartTraining(context.Background(), models.TrainingRequest{DatasetID: "ds-1"})
	require.NoError(t, err)
	assert.Equal(t, "ds-1", job.DatasetID)
	assert.Equal(t, 1, job.ExampleCount)

	_, err = newFixture(t, launchingRemote(), stubDatasets{err: errs.NotFound("dataset", "missing")}).
		trainer.StartTraining(context.Background(), models.TrainingRequest{DatasetID: "missing"})
	assert.True(t, errs.IsCode(err, errs.CodeNotFound))
}

func TestStatusAndStopUnknownJob(t *testing.T) {
	f := newFixture(t, launchingRemote(), nil)
	ctx := context.Background()

	_, err := f.trainer.GetTrainingStatus(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.trainer.StopTraining(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStopTrainingIsIdempotent(t *testing.T) {
	f := newFixture(t, launchingRemote(), nil)
	ctx := context.Background()

	job, err := f.trainer.StartTraining(ctx, sampleRequest())
	require.NoError(t, err)

	stopped, err := f.trainer.StopTraining(ctx, job.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusStopped, stopped.Status)
	assert.Empty(t, stopped.ProcessHandle)
	require.Len(t, f.remote.CommandsContaining("kill "), 1)
	assert.Equal(t, "kill 4242", f.remote.CommandsContaining("kill ")[0])

	again, err := f.trainer.StopTraining(ctx, job.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusStopped, again.Status)
	assert.Len(t, f.remote.CommandsContaining("kill "), 1)

	for i := 0; i < 100; i++ {
		s, err := f.trainer.GetTrainingStatus(ctx, job.TrainingID)
		require.NoError(t, err)
		require.Equal(t, models.TrainingStatusStopped, s.Status)
	}
}

func TestStopTrainingTransportFailureKeepsJobRunning(t *testing.T) {
	var mu sync.Mutex
	unreachable := false
	remote := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			mu.Lock()
			defer mu.Unlock()
			if unreachable {
				return executor.CommandResult{}, errors.New("ssh: handshake failed")
			}
			if strings.Contains(command, "nohup") {
				return executor.CommandResult{Success: true, Stdout: "4242\n"}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
	f := newFixture(t, remote, nil)
	ctx := context.Background()

	job, err := f.trainer.StartTraining(ctx, sampleRequest())
	require.NoError(t, err)

	mu.Lock()
	unreachable = true
	mu.Unlock()

	_, err = f.trainer.StopTraining(ctx, job.TrainingID)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.CodeTransportFailure))

	current, err := f.registry.Get(job.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusRunning, current.Status)
}

func TestGetTrainingStatusRefreshesLogs(t *testing.T) {
	remote := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			switch {
			case strings.Contains(command, "nohup"):
				return executor.CommandResult{Success: true, Stdout: "4242\n"}, nil
			case strings.HasPrefix(command, "tail "):
				return executor.CommandResult{Success: true, Stdout: "Epoch 2/3 - Loss: 0.8\n"}, nil
			}
			return executor.CommandResult{Success: true}, nil
		},
	}
	f := newFixture(t, remote, nil)
	ctx := context.Background()

	job, err := f.trainer.StartTraining(ctx, sampleRequest())
	require.NoError(t, err)

	status, err := f.trainer.GetTrainingStatus(ctx, job.TrainingID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.CurrentEpoch)
	assert.InDelta(t, 200.0/3.0, status.Progress, 1e-9)
	require.NotNil(t, status.Loss)
	assert.InDelta(t, 0.8, *status.Loss, 1e-9)
	assert.Equal(t, []string{"Epoch 2/3 - Loss: 0.8"}, status.Logs)
}

func TestListModelVersions(t *testing.T) {
	remote := &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, command string) (executor.CommandResult, error) {
			return executor.CommandResult{Success: true, Stdout: "reasoning_enhancer_a\nreasoning_enhancer_b\n\n"}, nil
		},
	}
	f := newFixture(t, remote, nil)

	versions := f.trainer.ListModelVersions(context.Background())
	assert.Equal(t, []string{"base", "reasoning_enhancer_a", "reasoning_enhancer_b"}, versions)
	assert.Contains(t, remote.Commands()[0], "/opt/models/trained")

	offline := newFixture(t, &testutil.FakeExecutor{
		ExecuteFunc: func(_ context.Context, _ string) (executor.CommandResult, error) {
			return executor.CommandResult{}, errors.New("no route to host")
		},
	}, nil)
	assert.Equal(t, []string{"base"}, offline.trainer.ListModelVersions(context.Background()))
}

func TestStartTrainingStagesLargeDatasetThroughLocalShell(t *testing.T) {
	store := repository.NewMemoryStore()
	registry := repository.NewJobRegistry(store, store, logging.Nop())
	gateway := executor.NewGateway(executor.NewLocalRunner(), nil, 30*time.Second, logging.Nop())
	monitor := monitoring.NewJobMonitor(registry, gateway, time.Hour, time.Hour, logging.Nop())
	t.Cleanup(monitor.Shutdown)

	root := t.TempDir()
	trainer := executor.NewTrainingExecutor(gateway, registry, monitor, nil, executor.TrainingPaths{
		WorkRoot:         root,
		TrainedModelsDir: filepath.Join(root, "trained"),
		BaseModelPath:    filepath.Join(root, "base"),
		PythonBin:        "true",
	}, logging.Nop())

	items := make([]models.TrainingDataItem, 2000)
	for i := range items {
		items[i] = models.TrainingDataItem{
			InputPrompt:    "Solve x; echo $(whoami) 'quoted' \"double\"",
			EnhancedPrompt: strings.Repeat("Break the problem into steps. ", 8),
			Category:       "reasoning",
		}
	}

	job, err := trainer.StartTraining(context.Background(), models.TrainingRequest{TrainingData: items})
	require.NoError(t, err)
	assert.Equal(t, models.TrainingStatusRunning, job.Status)
	assert.Equal(t, 2000, job.ExampleCount)

	raw, err := os.ReadFile(filepath.Join(job.WorkDir, frameworks.DataFileName))
	require.NoError(t, err)
	assert.Greater(t, len(raw), 200*1024)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(raw, &records))
	assert.Len(t, records, 2000)
	assert.Contains(t, string(raw), "$(whoami)")

	info, err := os.Stat(filepath.Join(job.WorkDir, frameworks.ScriptFileName))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o100)
}
