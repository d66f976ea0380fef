package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const defaultListLimit = 50

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.Store.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id uuid PRIMARY KEY,
			job_id text NOT NULL,
			success boolean NOT NULL,
			processed_records int NOT NULL,
			error text,
			started_at timestamptz NOT NULL,
			duration_ms bigint NOT NULL
		);
		CREATE INDEX IF NOT EXISTS pipeline_runs_job_idx ON pipeline_runs (job_id, started_at DESC);
		CREATE TABLE IF NOT EXISTS schedule_executions (
			id uuid PRIMARY KEY,
			schedule_id text NOT NULL,
			job_type text NOT NULL,
			job_id text,
			error text,
			executed_at timestamptz NOT NULL
		);
		CREATE INDEX IF NOT EXISTS schedule_executions_schedule_idx ON schedule_executions (schedule_id, executed_at DESC);`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *Repository) RecordRun(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO pipeline_runs (id, job_id, success, processed_records, error, started_at, duration_ms)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.JobID, rec.Success, rec.ProcessedRecords, rec.Error, rec.StartedAt, rec.DurationMS)
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return rec.ID, nil
}

func (r *Repository) RecordExecution(ctx context.Context, rec ExecutionRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO schedule_executions (id, schedule_id, job_type, job_id, error, executed_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6)`,
		rec.ID, rec.ScheduleID, rec.JobType, rec.JobID, rec.Error, rec.ExecutedAt)
	if err != nil {
		return "", fmt.Errorf("record execution: %w", err)
	}
	return rec.ID, nil
}

// ListRuns returns the newest runs first. An empty jobID lists every job.
func (r *Repository) ListRuns(ctx context.Context, jobID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id::text, job_id, success, processed_records, error, started_at, duration_ms
		FROM pipeline_runs WHERE ($1 = '' OR job_id = $1)
		ORDER BY started_at DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []RunRecord{}
	for rows.Next() {
		var rec RunRecord
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Success, &rec.ProcessedRecords, &rec.Error, &rec.StartedAt, &rec.DurationMS); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id::text, schedule_id, job_type, COALESCE(job_id, ''), error, executed_at
		FROM schedule_executions WHERE ($1 = '' OR schedule_id = $1)
		ORDER BY executed_at DESC LIMIT $2`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results := []ExecutionRecord{}
	for rows.Next() {
		var rec ExecutionRecord
		if err := rows.Scan(&rec.ID, &rec.ScheduleID, &rec.JobType, &rec.JobID, &rec.Error, &rec.ExecutedAt); err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func (r *Repository) GetRun(ctx context.Context, id string) (RunRecord, error) {
	row := r.Store.Pool.QueryRow(ctx, `
		SELECT id::text, job_id, success, processed_records, error, started_at, duration_ms
		FROM pipeline_runs WHERE id=$1`, id)
	var rec RunRecord
	if err := row.Scan(&rec.ID, &rec.JobID, &rec.Success, &rec.ProcessedRecords, &rec.Error, &rec.StartedAt, &rec.DurationMS); err != nil {
		return RunRecord{}, ErrNotFound
	}
	return rec, nil
}
