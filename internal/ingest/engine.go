// Package ingest runs bulk uploads: it validates a submission, stages the
// file, and turns each row into a persisted record in the background.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"templr/internal/blob"
	"templr/internal/identifier"
	"templr/internal/normalize"
	"templr/internal/render"
	"templr/internal/schema"
	"templr/internal/store"

	"github.com/google/uuid"
)

// Defaults applied by New when the corresponding Config field is unset.
const (
	DefaultCheckpointEvery      = 1000
	DefaultFailureThreshold     = 0.5
	DefaultRecordRetention      = 30 * 24 * time.Hour
	DefaultMaxIdentifierRetries = 3
)

// Config tunes background processing.
type Config struct {
	// Domain prefixes the per-schema URLs written to the results artifact.
	Domain string
	// CheckpointEvery is the number of rows committed per transaction.
	CheckpointEvery int
	// FailureThreshold is the fraction of the job's rows that may fail
	// before the job is aborted.
	FailureThreshold float64
	// RecordRetention is how long a record stays publicly readable.
	RecordRetention time.Duration
	// MaxIdentifierRetries bounds re-probing after a unique violation.
	MaxIdentifierRetries int
}

// Deps are the collaborators the engine is built from.
type Deps struct {
	Store       store.Store
	Blobs       blob.Store
	Renderer    render.Renderer
	Identifiers *identifier.Generator
	Logger      *slog.Logger
}

// Dispatcher hands a pending job to a background unit.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *store.Job) error
}

// Engine owns the ingestion job lifecycle.
type Engine struct {
	cfg        Config
	store      store.Store
	blobs      blob.Store
	renderer   render.Renderer
	ids        *identifier.Generator
	logger     *slog.Logger
	dispatcher Dispatcher
	metrics    instruments
	now        func() time.Time
}

// New builds an engine. A dispatcher must be attached with UseDispatcher
// before Submit is called.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecordRetention <= 0 {
		cfg.RecordRetention = DefaultRecordRetention
	}
	if cfg.MaxIdentifierRetries <= 0 {
		cfg.MaxIdentifierRetries = DefaultMaxIdentifierRetries
	}
	cfg.Domain = strings.TrimRight(cfg.Domain, "/")

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := deps.Identifiers
	if ids == nil {
		ids = identifier.New()
	}

	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		blobs:    deps.Blobs,
		renderer: deps.Renderer,
		ids:      ids,
		logger:   logger,
		metrics:  newInstruments(logger),
		now:      time.Now,
	}
}

// UseDispatcher sets how submitted jobs reach a background unit.
func (e *Engine) UseDispatcher(d Dispatcher) {
	e.dispatcher = d
}

// SubmitRequest describes an upload.
type SubmitRequest struct {
	OwnerID     uuid.UUID
	Filename    string
	Content     io.Reader
	Size        int64
	SchemaSlugs []string
}

// Submit validates the request, stages the file and creates a pending job.
// The returned job is handed to the dispatcher before Submit returns.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if len(req.SchemaSlugs) == 0 {
		return nil, newError(KindClientInput, nil, "At least one template slug is required")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return nil, newError(KindClientInput, nil, "A file name is required")
	}
	if req.Content == nil {
		return nil, newError(KindClientInput, nil, "A file is required")
	}
	if e.dispatcher == nil {
		return nil, newError(KindUnexpected, nil, "no dispatcher configured")
	}

	schemas := make([]schema.Schema, 0, len(req.SchemaSlugs))
	for _, slug := range req.SchemaSlugs {
		if strings.TrimSpace(slug) == "" {
			return nil, newError(KindClientInput, nil, "Template slugs must not be empty")
		}
		sc, err := e.store.GetSchemaBySlug(ctx, slug, req.OwnerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(KindClientInput, ErrSchemaNotFound, "Template '%s'", slug)
		}
		if err != nil {
			return nil, newError(KindPersistence, err, "failed to load template '%s'", slug)
		}
		schemas = append(schemas, *sc)
	}

	key := blob.UploadKey(req.Filename)
	if err := e.blobs.Put(ctx, key, req.Content, req.Size); err != nil {
		return nil, newError(KindPersistence, err, "failed to stage upload")
	}

	job := &store.Job{
		ID:            uuid.New(),
		OwnerID:       req.OwnerID,
		Filename:      filepath.Base(req.Filename),
		Status:        store.JobStatusPending,
		SchemaSlugs:   append([]string(nil), req.SchemaSlugs...),
		Schemas:       schemas,
		StagedFileRef: key,
		CreatedAt:     e.now().UTC(),
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		e.removeStaged(context.WithoutCancel(ctx), key)
		return nil, newError(KindPersistence, err, "failed to create upload job")
	}
	e.metrics.job(ctx, "submitted")

	if err := e.dispatcher.Dispatch(ctx, job); err != nil {
		e.logger.ErrorContext(ctx, "dispatch failed", "job_id", job.ID, "error", err)
		e.failUndispatched(context.WithoutCancel(ctx), job, err)
		return job, newError(KindPersistence, err, "failed to schedule upload job")
	}

	e.logger.InfoContext(ctx, "upload job submitted",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"filename", job.Filename,
		"schemas", job.SchemaSlugs,
	)
	return job, nil
}

// failUndispatched moves a job that never reached a background unit to
// failed and releases its staged file.
func (e *Engine) failUndispatched(ctx context.Context, job *store.Job, cause error) {
	if err := job.Transition(store.JobStatusFailed); err == nil {
		msg := fmt.Sprintf("failed to schedule processing: %v", cause)
		now := e.now().UTC()
		job.ErrorMessage = &msg
		job.CompletedAt = &now
		if err := e.store.UpdateJob(ctx, nil, job); err != nil {
			e.logger.ErrorContext(ctx, "failed to mark undispatched job", "job_id", job.ID, "error", err)
		}
	}
	e.removeStaged(ctx, job.StagedFileRef)
	e.metrics.job(ctx, "failed")
}

func (e *Engine) removeStaged(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := e.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
		e.logger.WarnContext(ctx, "failed to remove staged upload", "key", key, "error", err)
	}
}

// ListJobs returns the owner's jobs, newest first.
func (e *Engine) ListJobs(ctx context.Context, owner uuid.UUID, skip, limit int) ([]store.Job, error) {
	jobs, err := e.store.ListJobsByOwner(ctx, owner, skip, limit)
	if err != nil {
		return nil, newError(KindPersistence, err, "failed to list upload jobs")
	}
	return jobs, nil
}

// GetJob returns a job owned by owner.
func (e *Engine) GetJob(ctx context.Context, id, owner uuid.UUID) (*store.Job, error) {
	job, err := e.store.GetJobByID(ctx, id, owner)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, newError(KindPersistence, err, "failed to load upload job")
	}
	return job, nil
}

// ArtifactKind selects a job artifact.
type ArtifactKind string

const (
	ArtifactResults  ArtifactKind = "results"
	ArtifactFailures ArtifactKind = "failures"
)

// Artifact is an open job artifact. The caller closes Body.
type Artifact struct {
	Filename string
	Body     io.ReadCloser
}

// OpenArtifact opens a job artifact for download. Results are only served
// once the job has completed.
func (e *Engine) OpenArtifact(ctx context.Context, id, owner uuid.UUID, kind ArtifactKind) (*Artifact, error) {
	job, err := e.GetJob(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	var (
		ref      *string
		filename string
	)
	switch kind {
	case ArtifactResults:
		if job.Status != store.JobStatusCompleted {
			return nil, ErrArtifactNotReady
		}
		ref, filename = job.ResultArtifactRef, "processed_"+base+".csv"
	case ArtifactFailures:
		ref, filename = job.FailureArtifactRef, "failed_rows_"+base+".csv"
	default:
		return nil, newError(KindClientInput, nil, "unknown artifact %q", kind)
	}
	if ref == nil {
		return nil, ErrArtifactNotFound
	}

	body, err := e.blobs.Get(ctx, *ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, newError(KindPersistence, err, "failed to open artifact")
	}
	return &Artifact{Filename: filename, Body: body}, nil
}

// GetRecord returns a live record. Expired records yield ErrRecordGone.
func (e *Engine) GetRecord(ctx context.Context, identifier string) (*store.Record, error) {
	rec, err := e.store.GetRecordByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, newError(KindPersistence, err, "failed to load record")
	}
	if rec.Expired(e.now()) {
		return nil, ErrRecordGone
	}
	return rec, nil
}

// RenderRecord renders the record into the named schema's template content.
func (e *Engine) RenderRecord(ctx context.Context, slug, identifier string) (string, error) {
	rec, err := e.GetRecord(ctx, identifier)
	if err != nil {
		return "", err
	}
	if !rec.HasSchema(slug) {
		return "", ErrSchemaNotAssociated
	}

	sc, err := e.store.GetSchemaBySlug(ctx, slug, rec.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSchemaNotAssociated
	}
	if err != nil {
		return "", newError(KindPersistence, err, "failed to load template '%s'", slug)
	}

	out, err := e.renderer.Render(sc.Content, normalize.Render(rec.Payload, sc.Types()))
	if err != nil {
		return "", newError(KindRender, err, "Template rendering error")
	}
	return out, nil
}
