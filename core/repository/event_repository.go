package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"reasoning-trainer/core/models"
)

// EventRepository handles database operations for job events
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// CreateJobEvent inserts a status transition
func (r *EventRepository) CreateJobEvent(ctx context.Context, event models.JobEvent) error {
	query := `
		INSERT INTO job_events (training_id, at, from_status, to_status, reason, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	var fromStatus sql.NullString
	if event.FromStatus != nil {
		fromStatus = sql.NullString{String: string(*event.FromStatus), Valid: true}
	}

	metaJSON := "{}"
	if event.MetaJSON != nil {
		raw, err := json.Marshal(event.MetaJSON)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metaJSON = string(raw)
	}

	_, err := r.db.ExecContext(ctx, query, event.TrainingID, event.At, fromStatus, event.ToStatus, event.Reason, metaJSON)
	return err
}

// GetJobEvents retrieves events for a job, newest first
func (r *EventRepository) GetJobEvents(ctx context.Context, trainingID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT id, training_id, at, from_status, to_status, reason, meta_json
		FROM job_events
		WHERE training_id = $1
		ORDER BY at DESC, id DESC
		LIMIT $2
	`
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, query, trainingID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []models.JobEvent{}
	for rows.Next() {
		var event models.JobEvent
		var fromStatus sql.NullString
		var metaJSON string

		if err := rows.Scan(
			&event.ID,
			&event.TrainingID,
			&event.At,
			&fromStatus,
			&event.ToStatus,
			&event.Reason,
			&metaJSON,
		); err != nil {
			return nil, err
		}

		if fromStatus.Valid {
			status := models.TrainingStatus(fromStatus.String)
			event.FromStatus = &status
		}
		if metaJSON != "" && metaJSON != "{}" {
			_ = json.Unmarshal([]byte(metaJSON), &event.MetaJSON)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
