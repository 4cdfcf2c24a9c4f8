package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/training/frameworks"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// BaseModelVersion is always listed first by ListModelVersions
const BaseModelVersion = "base"

// ModelVersionPrefix names the output directory of every fine-tuned model
const ModelVersionPrefix = "reasoning_enhancer_"

// JobWatcher keeps a launched job's record current until it finishes
type JobWatcher interface {
	Watch(ctx context.Context, trainingID string)
	RefreshLogs(ctx context.Context, trainingID string) (*models.TrainingJob, error)
}

// DatasetLoader resolves a stored dataset into training items
type DatasetLoader interface {
	LoadForTraining(ctx context.Context, datasetID string) ([]models.TrainingDataItem, error)
}

// TrainingPaths locates job files on the backend host
type TrainingPaths struct {
	WorkRoot         string
	TrainedModelsDir string
	BaseModelPath    string
	PythonBin        string
}

// TrainingExecutor starts, inspects and stops fine-tuning runs on the backend host
type TrainingExecutor struct {
	remote   RemoteExecutor
	registry *repository.JobRegistry
	watcher  JobWatcher
	datasets DatasetLoader
	setup    *frameworks.LoRASetup
	paths    TrainingPaths
	logger   arbor.ILogger
	newID    func() string
}

// NewTrainingExecutor creates a new training executor. datasets may be nil, in
// which case requests must carry their training data inline.
func NewTrainingExecutor(
	remote RemoteExecutor,
	registry *repository.JobRegistry,
	watcher JobWatcher,
	datasets DatasetLoader,
	paths TrainingPaths,
	logger arbor.ILogger,
) *TrainingExecutor {
	if paths.PythonBin == "" {
		paths.PythonBin = "python3"
	}
	return &TrainingExecutor{
		remote:   remote,
		registry: registry,
		watcher:  watcher,
		datasets: datasets,
		setup:    &frameworks.LoRASetup{},
		paths:    paths,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// StartTraining stages the job on the backend, launches it detached and
// registers it as Running. No record is created when any step fails.
func (e *TrainingExecutor) StartTraining(ctx context.Context, req models.TrainingRequest) (*models.TrainingJob, error) {
	items, err := e.resolveItems(ctx, req)
	if err != nil {
		return nil, err
	}

	modelConfig := req.ModelConfig.WithDefaults()
	trainingConfig := req.TrainingConfig.WithDefaults()

	trainingID := e.newID()
	jobID := e.newID()
	workDir := JoinRemote(e.paths.WorkRoot, "training_"+trainingID)
	modelVersion := ModelVersionPrefix + trainingID

	files, err := e.setup.PrepareJob(frameworks.JobConfigFile{
		TrainingID:    trainingID,
		ModelName:     modelConfig.ModelName,
		BaseModelPath: e.paths.BaseModelPath,
		OutputDir:     JoinRemote(e.paths.TrainedModelsDir, modelVersion),
	}, modelConfig, trainingConfig, items)
	if err != nil {
		return nil, errs.New(errs.CodeInvalidInput, err)
	}

	log := e.logger.WithCorrelationId(trainingID)
	log.Info().
		Str("work_dir", workDir).
		Int("examples", len(items)).
		Int("epochs", trainingConfig.NumEpochs).
		Msg("Staging training job")

	if err := e.stage(ctx, workDir, files); err != nil {
		log.Error().Err(err).Msg("Failed to stage training job")
		return nil, err
	}

	pid, err := e.launch(ctx, workDir)
	if err != nil {
		log.Error().Err(err).Msg("Failed to launch training job")
		return nil, err
	}

	job := &models.TrainingJob{
		TrainingID:    trainingID,
		JobID:         jobID,
		Status:        models.TrainingStatusRunning,
		TotalEpochs:   trainingConfig.NumEpochs,
		ProcessHandle: pid,
		WorkDir:       workDir,
		ModelVersion:  modelVersion,
		DatasetID:     req.DatasetID,
		ExampleCount:  len(items),
		Logs:          []string{},
	}
	if err := e.registry.Register(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to register training job: %w", err)
	}

	// the monitor outlives the request that started the job
	e.watcher.Watch(context.WithoutCancel(ctx), trainingID)

	log.Info().Str("pid", pid).Str("job_id", jobID).Msg("Training job launched")
	return e.registry.Get(trainingID)
}

func (e *TrainingExecutor) resolveItems(ctx context.Context, req models.TrainingRequest) ([]models.TrainingDataItem, error) {
	if len(req.TrainingData) > 0 {
		return req.TrainingData, nil
	}
	if req.DatasetID == "" {
		return nil, errs.Newf(errs.CodeInvalidInput, "training data is required")
	}
	if e.datasets == nil {
		return nil, errs.Newf(errs.CodeInvalidInput, "datasets are not available")
	}

	items, err := e.datasets.LoadForTraining(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.Newf(errs.CodeInvalidInput, "dataset %s holds no training examples", req.DatasetID)
	}
	return items, nil
}

// stage creates the working directory and writes the job files into it
func (e *TrainingExecutor) stage(ctx context.Context, workDir string, files *frameworks.JobFiles) error {
	scriptPath := JoinRemote(workDir, frameworks.ScriptFileName)
	steps := []struct {
		name    string
		command string
		input   []byte
	}{
		{"create work dir", MkdirCommand(workDir), nil},
		{"write training data", WriteFileCommand(JoinRemote(workDir, frameworks.DataFileName)), files.Data},
		{"write job config", WriteFileCommand(JoinRemote(workDir, frameworks.ConfigFileName)), files.Config},
		{"write training script", WriteFileCommand(scriptPath), files.Script},
		{"mark script executable", ChmodExecCommand(scriptPath), nil},
	}

	for _, step := range steps {
		if _, err := e.runWithInput(ctx, step.name, step.command, step.input); err != nil {
			return err
		}
	}
	return nil
}

func (e *TrainingExecutor) launch(ctx context.Context, workDir string) (string, error) {
	result, err := e.run(ctx, "launch training script", LaunchCommand(
		workDir,
		e.paths.PythonBin,
		frameworks.ScriptFileName,
		frameworks.LogFileName,
	))
	if err != nil {
		return "", err
	}

	pid := lastLine(result.Stdout)
	if !ValidPID(pid) {
		return "", errs.Newf(errs.CodeLaunchFailure, "launch training script: no process id in output %q", pid)
	}
	return pid, nil
}

// run executes one launch step, turning any failure into a LaunchFailure
func (e *TrainingExecutor) run(ctx context.Context, step, command string) (CommandResult, error) {
	return e.runWithInput(ctx, step, command, nil)
}

func (e *TrainingExecutor) runWithInput(ctx context.Context, step, command string, input []byte) (CommandResult, error) {
	var (
		result CommandResult
		err    error
	)
	if input == nil {
		result, err = e.remote.Execute(ctx, command)
	} else {
		result, err = e.remote.ExecuteWithInput(ctx, command, input)
	}
	if err != nil {
		return result, errs.New(errs.CodeLaunchFailure, fmt.Errorf("%s: %w", step, errs.New(errs.CodeTransportFailure, err)))
	}
	if !result.Success {
		return result, errs.Newf(errs.CodeLaunchFailure, "%s: exit code %d: %s", step, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result, nil
}

// GetTrainingStatus returns the job's record after one synchronous log refresh
func (e *TrainingExecutor) GetTrainingStatus(ctx context.Context, trainingID string) (*models.TrainingJob, error) {
	job, err := e.registry.Get(trainingID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	refreshed, err := e.watcher.RefreshLogs(ctx, trainingID)
	if err != nil {
		e.logger.Debug().Err(err).Str("training_id", trainingID).Msg("Log refresh failed, returning last known status")
		return e.registry.Get(trainingID)
	}
	return refreshed, nil
}

// StopTraining kills the job's process and marks it Stopped. Stopping a job
// that already finished changes nothing.
func (e *TrainingExecutor) StopTraining(ctx context.Context, trainingID string) (*models.TrainingJob, error) {
	job, err := e.registry.Get(trainingID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	if job.ProcessHandle != "" {
		result, err := e.remote.Execute(ctx, KillCommand(job.ProcessHandle))
		if err != nil {
			e.logger.Warn().Err(err).Str("training_id", trainingID).Msg("Failed to send kill to training process")
			return nil, errs.New(errs.CodeTransportFailure, fmt.Errorf("stop training job %s: %w", trainingID, err))
		}
		if !result.Success {
			// the process already exited; the record still moves to Stopped
			e.logger.Warn().
				Str("training_id", trainingID).
				Str("pid", job.ProcessHandle).
				Str("stderr", strings.TrimSpace(result.Stderr)).
				Msg("Kill reported failure")
		}
	}

	stopped, err := e.registry.Update(ctx, trainingID, "user_stopped", func(j *models.TrainingJob) error {
		if j.Status.IsTerminal() {
			return repository.ErrAlreadyTerminal
		}
		j.Status = models.TrainingStatusStopped
		return nil
	})
	if errors.Is(err, repository.ErrAlreadyTerminal) {
		return e.registry.Get(trainingID)
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info().Str("training_id", trainingID).Msg("Training job stopped")
	return stopped, nil
}

// ListTrainingJobs returns every known job, newest first
func (e *TrainingExecutor) ListTrainingJobs() []*models.TrainingJob {
	return e.registry.List()
}

// JobEvents returns a job's recorded status transitions, newest first
func (e *TrainingExecutor) JobEvents(ctx context.Context, trainingID string, limit int) ([]models.JobEvent, error) {
	return e.registry.Events(ctx, trainingID, limit)
}

// ListModelVersions lists fine-tuned models on the backend host, "base" first.
// The base model is still listed when the host cannot be reached.
func (e *TrainingExecutor) ListModelVersions(ctx context.Context) []string {
	versions := []string{BaseModelVersion}

	result, err := e.remote.Execute(ctx, ListDirCommand(e.paths.TrainedModelsDir, ModelVersionPrefix))
	if err != nil || !result.Success {
		e.logger.Warn().Err(err).Msg("Failed to list trained model versions")
		return versions
	}

	for _, line := range strings.Split(result.Stdout, "\n") {
		name := strings.TrimSpace(line)
		if name == "" || name == BaseModelVersion {
			continue
		}
		versions = append(versions, name)
	}
	return versions
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
