package repository

import (
	"context"
	"database/sql"
	"errors"

	"reasoning-trainer/core/errs"
	"reasoning-trainer/core/models"
)

// DatasetRepository persists dataset metadata in PostgreSQL
type DatasetRepository struct {
	db *DB
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(db *DB) *DatasetRepository {
	return &DatasetRepository{db: db}
}

// CreateDataset inserts a dataset row
func (r *DatasetRepository) CreateDataset(ctx context.Context, info models.DatasetInfo) error {
	query := `
		INSERT INTO datasets (id, name, description, filename, format, size_bytes, example_count, blob_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		info.ID,
		info.Name,
		info.Description,
		info.Filename,
		info.Format,
		info.SizeBytes,
		info.ExampleCount,
		info.BlobKey,
		info.CreatedAt,
	)
	return err
}

// GetDataset retrieves dataset metadata by id
func (r *DatasetRepository) GetDataset(ctx context.Context, id string) (*models.DatasetInfo, error) {
	query := `
		SELECT id, name, description, filename, format, size_bytes, example_count, blob_key, created_at
		FROM datasets
		WHERE id = $1
	`
	info, err := scanDataset(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("dataset", id)
	}
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// ListDatasets lists dataset metadata, newest first
func (r *DatasetRepository) ListDatasets(ctx context.Context) ([]models.DatasetInfo, error) {
	query := `
		SELECT id, name, description, filename, format, size_bytes, example_count, blob_key, created_at
		FROM datasets
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	datasets := []models.DatasetInfo{}
	for rows.Next() {
		info, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, info)
	}
	return datasets, rows.Err()
}

func scanDataset(row rowScanner) (models.DatasetInfo, error) {
	var info models.DatasetInfo
	err := row.Scan(
		&info.ID,
		&info.Name,
		&info.Description,
		&info.Filename,
		&info.Format,
		&info.SizeBytes,
		&info.ExampleCount,
		&info.BlobKey,
		&info.CreatedAt,
	)
	return info, err
}
