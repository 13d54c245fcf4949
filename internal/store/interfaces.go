package store

import (
	"context"
	"database/sql"

	"templr/internal/schema"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx is a unit of work. Writes made through it become visible to other
// callers only after Commit. Savepoints let a caller undo a single failed
// statement without losing the rest of the batch.
type Tx interface {
	Commit() error
	Rollback() error
	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}

// JobStore persists ingestion jobs.
type JobStore interface {
	// CreateJob inserts a new job.
	CreateJob(ctx context.Context, job *Job) error

	// UpdateJob writes the mutable fields of job. tx may be nil.
	UpdateJob(ctx context.Context, tx Tx, job *Job) error

	// GetJobByID returns a job. A non-nil owner restricts the lookup to
	// jobs of that owner; ErrNotFound is returned otherwise.
	GetJobByID(ctx context.Context, id uuid.UUID, owner uuid.UUID) (*Job, error)

	// ListJobsByOwner returns the owner's jobs, newest first.
	ListJobsByOwner(ctx context.Context, owner uuid.UUID, skip, limit int) ([]Job, error)
}

// RecordStore persists materialized records.
type RecordStore interface {
	// CreateRecord inserts rec inside tx. A unique violation on the
	// identifier returns ErrDuplicateIdentifier.
	CreateRecord(ctx context.Context, tx Tx, rec *Record) error

	// RecordExistsByIdentifier reports whether identifier is taken, including
	// uncommitted records written through tx.
	RecordExistsByIdentifier(ctx context.Context, tx Tx, identifier string) (bool, error)

	// GetRecordByIdentifier returns the record regardless of expiry.
	GetRecordByIdentifier(ctx context.Context, identifier string) (*Record, error)
}

// SchemaStore looks up template schemas.
type SchemaStore interface {
	// GetSchemaBySlug returns the owner's schema with the given slug.
	GetSchemaBySlug(ctx context.Context, slug string, owner uuid.UUID) (*schema.Schema, error)

	// PutSchema creates or replaces a schema keyed by owner and slug.
	PutSchema(ctx context.Context, s *schema.Schema) error
}

// Store is the full persistence surface used by the ingestion engine.
type Store interface {
	JobStore
	RecordStore
	SchemaStore

	// BeginTx starts a unit of work.
	BeginTx(ctx context.Context) (Tx, error)
}
