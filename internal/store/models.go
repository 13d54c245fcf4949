// Package store contains the persistence layer for templr.
package store

import (
	"errors"
	"fmt"
	"time"

	"templr/internal/schema"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested row does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateIdentifier is returned when a record insert violates the
	// identifier unique constraint.
	ErrDuplicateIdentifier = errors.New("duplicate identifier")

	// ErrInvalidTransition is returned when a job status change would move
	// the state machine backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobStatus represents the state of an ingestion job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is legal.
// pending -> failed is only used when a job could not be dispatched.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing || next == JobStatusFailed
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job is an ingestion job: one uploaded file processed against an ordered
// set of schemas.
type Job struct {
	ID                 uuid.UUID       `json:"id"`
	OwnerID            uuid.UUID       `json:"owner_id"`
	Filename           string          `json:"filename"`
	Status             JobStatus       `json:"status"`
	TotalRows          *int            `json:"total_rows,omitempty"`
	ProcessedRows      int             `json:"processed_rows"`
	SchemaSlugs        []string        `json:"schema_slugs"`
	Schemas            []schema.Schema `json:"schemas"`
	StagedFileRef      string          `json:"staged_file_ref"`
	ResultArtifactRef  *string         `json:"result_artifact_ref,omitempty"`
	FailureArtifactRef *string         `json:"failure_artifact_ref,omitempty"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// Transition moves the job to next, enforcing the forward-only state machine.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// Record is a materialized, addressable row. Records are immutable once
// persisted.
type Record struct {
	ID          uuid.UUID      `json:"id"`
	Identifier  string         `json:"identifier"`
	Payload     map[string]any `json:"payload"`
	SchemaSlugs []string       `json:"schema_slugs"`
	JobID       uuid.UUID      `json:"job_id"`
	OwnerID     uuid.UUID      `json:"owner_id"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Expired reports whether the record is past its retention window at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// HasSchema reports whether slug is one of the schemas the record was
// ingested against.
func (r *Record) HasSchema(slug string) bool {
	for _, s := range r.SchemaSlugs {
		if s == slug {
			return true
		}
	}
	return false
}
