package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"templr/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const jobColumns = `id, owner_id, filename, status, total_rows, processed_rows, schema_slugs, schemas,
	staged_file_ref, result_artifact_ref, failure_artifact_ref, error_message,
	created_at, started_at, completed_at`

// CreateJob inserts a new job row.
// The schema snapshot is stored as a JSON document.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	schemasJSON, err := json.Marshal(job.Schemas)
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot: %w", err)
	}

	query := `
		INSERT INTO ingestion_jobs (id, owner_id, filename, status, processed_rows, schema_slugs, schemas, staged_file_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.Filename,
		job.Status,
		job.ProcessedRows,
		pq.Array(job.SchemaSlugs),
		schemasJSON,
		job.StagedFileRef,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}
	return nil
}

// UpdateJob writes the mutable columns of a job. Rows already in a terminal
// state are never rewritten.
func (s *Store) UpdateJob(ctx context.Context, tx store.Tx, job *store.Job) error {
	executor, err := s.getExecutor(tx)
	if err != nil {
		return err
	}

	query := `
		UPDATE ingestion_jobs
		SET status = $2, total_rows = $3, processed_rows = $4,
			result_artifact_ref = $5, failure_artifact_ref = $6, error_message = $7,
			started_at = $8, completed_at = $9
		WHERE id = $1 AND status IN ('pending', 'processing')
	`
	res, err := executor.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.TotalRows,
		job.ProcessedRows,
		job.ResultArtifactRef,
		job.FailureArtifactRef,
		job.ErrorMessage,
		job.StartedAt,
		job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: job %s is missing or already final", store.ErrInvalidTransition, job.ID)
	}
	return nil
}

// GetJobByID returns a job. When owner is uuid.Nil the lookup is unscoped.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID, owner uuid.UUID) (*store.Job, error) {
	query := "SELECT " + jobColumns + " FROM ingestion_jobs WHERE id = $1"
	args := []interface{}{id}
	if owner != uuid.Nil {
		query += " AND owner_id = $2"
		args = append(args, owner)
	}

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobsByOwner returns the owner's jobs ordered by creation time, newest first.
func (s *Store) ListJobsByOwner(ctx context.Context, owner uuid.UUID, skip, limit int) ([]store.Job, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT " + jobColumns + `
		FROM ingestion_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, owner, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []store.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*store.Job, error) {
	var (
		job         store.Job
		totalRows   sql.NullInt64
		schemasJSON []byte
	)
	err := row.Scan(
		&job.ID, &job.OwnerID, &job.Filename, &job.Status,
		&totalRows, &job.ProcessedRows,
		pq.Array(&job.SchemaSlugs), &schemasJSON,
		&job.StagedFileRef, &job.ResultArtifactRef, &job.FailureArtifactRef, &job.ErrorMessage,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if totalRows.Valid {
		n := int(totalRows.Int64)
		job.TotalRows = &n
	}
	if len(schemasJSON) > 0 {
		if err := json.Unmarshal(schemasJSON, &job.Schemas); err != nil {
			return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
		}
	}
	return &job, nil
}
