package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	*sql.DB
}

// NewDB opens the database, verifies the connection and ensures the schema exists
func NewDB(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{DB: conn}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the tables used by the service
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS training_jobs (
		training_id    TEXT PRIMARY KEY,
		job_id         TEXT NOT NULL,
		status         TEXT NOT NULL,
		progress       DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_epoch  INTEGER NOT NULL DEFAULT 0,
		total_epochs   INTEGER NOT NULL DEFAULT 0,
		loss           DOUBLE PRECISION,
		eval_loss      DOUBLE PRECISION,
		learning_rate  DOUBLE PRECISION,
		process_handle TEXT NOT NULL DEFAULT '',
		work_dir       TEXT NOT NULL DEFAULT '',
		model_version  TEXT NOT NULL DEFAULT '',
		dataset_id     TEXT NOT NULL DEFAULT '',
		example_count  INTEGER NOT NULL DEFAULT 0,
		logs           TEXT[] NOT NULL DEFAULT '{}',
		error_message  TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_events (
		id          BIGSERIAL PRIMARY KEY,
		training_id TEXT NOT NULL,
		at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		from_status TEXT,
		to_status   TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		meta_json   TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS job_events_training_id_idx ON job_events (training_id, at DESC)`,
	`CREATE TABLE IF NOT EXISTS datasets (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		description   TEXT NOT NULL DEFAULT '',
		filename      TEXT NOT NULL,
		format        TEXT NOT NULL,
		size_bytes    BIGINT NOT NULL,
		example_count INTEGER NOT NULL,
		blob_key      TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
}
