package monitoring

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"reasoning-trainer/core/executor"
	"reasoning-trainer/core/models"
	"reasoning-trainer/core/repository"
	"reasoning-trainer/training/frameworks"

	"github.com/ternarybob/arbor"
)

// JobMonitor polls the backend for each running training job: it probes the
// training process, refreshes the log window and parses progress out of it.
// Each job gets its own goroutine, which exits when the job reaches a terminal
// status or the parent context is cancelled.
type JobMonitor struct {
	registry     *repository.JobRegistry
	remote       executor.RemoteExecutor
	interval     time.Duration
	errorBackoff time.Duration
	logger       arbor.ILogger

	mu       sync.Mutex
	active   map[string]struct{}
	refresh  map[string]*sync.Mutex
	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(
	registry *repository.JobRegistry,
	remote executor.RemoteExecutor,
	interval time.Duration,
	errorBackoff time.Duration,
	logger arbor.ILogger,
) *JobMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = 2 * interval
	}
	return &JobMonitor{
		registry:     registry,
		remote:       remote,
		interval:     interval,
		errorBackoff: errorBackoff,
		logger:       logger,
		active:       make(map[string]struct{}),
		refresh:      make(map[string]*sync.Mutex),
		stop:         make(chan struct{}),
	}
}

// Watch starts monitoring trainingID. Calling it again for a job that is
// already watched does nothing.
func (m *JobMonitor) Watch(ctx context.Context, trainingID string) {
	m.mu.Lock()
	if _, ok := m.active[trainingID]; ok {
		m.mu.Unlock()
		return
	}
	m.active[trainingID] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.active, trainingID)
			m.mu.Unlock()
		}()
		m.run(ctx, trainingID)
	}()
}

// Active reports how many jobs are being watched
func (m *JobMonitor) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Wait blocks until every monitor goroutine has exited
func (m *JobMonitor) Wait() {
	m.wg.Wait()
}

// Shutdown stops every monitor goroutine and waits for them to exit
func (m *JobMonitor) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *JobMonitor) run(parent context.Context, trainingID string) {
	done, err := m.registry.Done(trainingID)
	if err != nil {
		m.logger.Warn().Err(err).Str("training_id", trainingID).Msg("Not monitoring unknown training job")
		return
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-m.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.logger.Info().Str("training_id", trainingID).Msg("Monitoring training job")

	for {
		finished, err := m.cycle(ctx, trainingID)
		if finished {
			m.logger.Info().Str("training_id", trainingID).Msg("Stopped monitoring training job")
			return
		}

		wait := m.interval
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Err(err).Str("training_id", trainingID).Str("retry_in", m.errorBackoff.String()).Msg("Monitor cycle failed")
			wait = m.errorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycle runs one probe-and-refresh pass. finished is true once the job no
// longer needs monitoring.
func (m *JobMonitor) cycle(ctx context.Context, trainingID string) (finished bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("monitor cycle panicked: %v", r)
			finished = false
		}
	}()

	job, err := m.registry.Get(trainingID)
	if err != nil {
		return true, err
	}
	if job.Status.IsTerminal() {
		return true, nil
	}
	if job.ProcessHandle == "" {
		_, err := m.markFailed(ctx, trainingID, "training job has no process handle")
		return true, err
	}

	probe, err := m.remote.Execute(ctx, executor.ProcessAliveCommand(job.ProcessHandle))
	if err != nil {
		return false, err
	}

	if !probe.Success {
		// the process may have exited after finishing; give the log one last read
		if refreshed, err := m.RefreshLogs(ctx, trainingID); err == nil && refreshed.Status.IsTerminal() {
			return true, nil
		}
		m.logger.Warn().
			Str("training_id", trainingID).
			Str("pid", job.ProcessHandle).
			Msg("Training process is no longer running")
		_, err := m.markFailed(ctx, trainingID, fmt.Sprintf("training process %s is no longer running", job.ProcessHandle))
		return true, err
	}

	refreshed, err := m.RefreshLogs(ctx, trainingID)
	if err != nil {
		return false, err
	}
	return refreshed.Status.IsTerminal(), nil
}

// RefreshLogs reads the tail of the job's log, replaces the record's log window
// and applies any progress found in it. Refreshes of one job run one at a time
// so a slower, older tail never overwrites a newer one.
func (m *JobMonitor) RefreshLogs(ctx context.Context, trainingID string) (*models.TrainingJob, error) {
	lock := m.refreshLock(trainingID)
	lock.Lock()
	defer lock.Unlock()

	job, err := m.registry.Get(trainingID)
	if err != nil {
		return nil, err
	}

	logFile := path.Join(job.WorkDir, frameworks.LogFileName)
	result, err := m.remote.Execute(ctx, executor.TailLogCommand(logFile, models.MaxLogLines))
	if err != nil {
		return job, err
	}
	lines := splitLines(result.Stdout)
	if !result.Success || len(lines) == 0 {
		return job, nil
	}

	update := ParseProgress(lines, job.TotalEpochs)
	reason := "progress_update"
	if update.Completed {
		reason = "training_completed"
	}

	return m.registry.Update(ctx, trainingID, reason, func(j *models.TrainingJob) error {
		j.SetLogs(lines)
		update.Apply(j)
		return nil
	})
}

func (m *JobMonitor) refreshLock(trainingID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.refresh[trainingID]
	if !ok {
		lock = &sync.Mutex{}
		m.refresh[trainingID] = lock
	}
	return lock
}

func (m *JobMonitor) markFailed(ctx context.Context, trainingID, message string) (*models.TrainingJob, error) {
	return m.registry.Update(ctx, trainingID, "process_died", func(j *models.TrainingJob) error {
		if j.Status.IsTerminal() {
			return nil
		}
		j.Status = models.TrainingStatusFailed
		j.ErrorMessage = message
		return nil
	})
}

func splitLines(output string) []string {
	output = strings.TrimRight(output, "\r\n")
	if strings.TrimSpace(output) == "" {
		return nil
	}
	lines := strings.Split(output, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}
