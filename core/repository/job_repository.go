package repository

import (
	"context"
	"database/sql"
	"errors"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"

	"github.com/lib/pq"
)

// JobRepository persists training jobs in PostgreSQL
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `training_id, job_id, status, progress, current_epoch, total_epochs,
	loss, eval_loss, learning_rate, process_handle, work_dir, model_version,
	dataset_id, example_count, logs, error_message, created_at, updated_at`

// SaveJob upserts a job row
func (r *JobRepository) SaveJob(ctx context.Context, job *models.TrainingJob) error {
	query := `
		INSERT INTO training_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (training_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			current_epoch = EXCLUDED.current_epoch,
			total_epochs = EXCLUDED.total_epochs,
			loss = EXCLUDED.loss,
			eval_loss = EXCLUDED.eval_loss,
			learning_rate = EXCLUDED.learning_rate,
			process_handle = EXCLUDED.process_handle,
			logs = EXCLUDED.logs,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`

	logs := job.Logs
	if logs == nil {
		logs = []string{}
	}

	_, err := r.db.ExecContext(ctx, query,
		job.TrainingID,
		job.JobID,
		job.Status,
		job.Progress,
		job.CurrentEpoch,
		job.TotalEpochs,
		nullFloat(job.Loss),
		nullFloat(job.EvalLoss),
		nullFloat(job.LearningRate),
		job.ProcessHandle,
		job.WorkDir,
		job.ModelVersion,
		job.DatasetID,
		job.ExampleCount,
		pq.Array(logs),
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// GetJob retrieves a job by training id
func (r *JobRepository) GetJob(ctx context.Context, trainingID string) (*models.TrainingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM training_jobs WHERE training_id = $1`

	job, err := scanJob(r.db.QueryRowContext(ctx, query, trainingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("training job", trainingID)
	}
	return job, err
}

// ListJobs lists every job, newest first
func (r *JobRepository) ListJobs(ctx context.Context) ([]*models.TrainingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM training_jobs ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.TrainingJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.TrainingJob, error) {
	var job models.TrainingJob
	var loss, evalLoss, learningRate sql.NullFloat64
	var logs []string

	err := row.Scan(
		&job.TrainingID,
		&job.JobID,
		&job.Status,
		&job.Progress,
		&job.CurrentEpoch,
		&job.TotalEpochs,
		&loss,
		&evalLoss,
		&learningRate,
		&job.ProcessHandle,
		&job.WorkDir,
		&job.ModelVersion,
		&job.DatasetID,
		&job.ExampleCount,
		pq.Array(&logs),
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if loss.Valid {
		job.Loss = &loss.Float64
	}
	if evalLoss.Valid {
		job.EvalLoss = &evalLoss.Float64
	}
	if learningRate.Valid {
		job.LearningRate = &learningRate.Float64
	}
	job.Logs = logs
	return &job, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
