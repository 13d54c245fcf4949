package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"templr/internal/blob"
	"templr/internal/coerce"
	"templr/internal/normalize"
	"templr/internal/schema"
	"templr/internal/store"
	"templr/internal/tabular"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	rowSavepoint = "ingest_row"
	sampleErrors = 3
	sampleLength = 100

	// genericFailure replaces a failure message the store refused to save.
	genericFailure = "Processing failed due to an internal error"
)

// Diagnostic columns appended to every failed row.
const (
	ColRowNumber     = "_row_number"
	ColOriginalIndex = "_original_row_index"
	ColErrorReason   = "_error_reason"
	ColErrorType     = "_error_type"
	ColIdentifier    = "identifier"
)

// rowFailure is a row routed to the failures artifact. index is the row's
// position in the source file.
type rowFailure struct {
	index  int
	row    map[string]any
	reason string
	kind   Kind
}

// run carries the per-job state of one background pass.
type run struct {
	job       *store.Job
	table     *tabular.Table
	mappings  []map[string]string
	results   []map[string]any
	failures  []rowFailure
	committed int
}

// Process runs a pending job to a terminal state. Job failures are recorded
// on the job and do not produce an error; an error means the job could not be
// claimed or its outcome could not be recorded, and it should be retried.
func (e *Engine) Process(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.store.GetJobByID(ctx, jobID, uuid.Nil)
	if errors.Is(err, store.ErrNotFound) {
		return ErrJobNotFound
	}
	if err != nil {
		return newError(KindPersistence, err, "failed to load job %s", jobID)
	}

	logger := e.logger.With("job_id", job.ID)

	switch job.Status {
	case store.JobStatusCompleted, store.JobStatusFailed:
		logger.InfoContext(ctx, "job already final, skipping", "status", job.Status)
		return nil
	case store.JobStatusProcessing:
		// A previous unit stopped mid-job; its uncommitted rows are gone.
		logger.WarnContext(ctx, "job was interrupted, marking failed")
		defer e.removeStaged(context.WithoutCancel(ctx), job.StagedFileRef)
		return e.fail(ctx, job, job.ProcessedRows, newError(KindUnexpected, nil, "processing was interrupted"))
	}

	if err := job.Transition(store.JobStatusProcessing); err != nil {
		return newError(KindUnexpected, err, "cannot start job")
	}
	started := e.now().UTC()
	job.StartedAt = &started
	if err := e.store.UpdateJob(ctx, nil, job); err != nil {
		return newError(KindPersistence, err, "failed to mark job processing")
	}

	tracer := otel.Tracer(instrumentationName)
	ctx, span := tracer.Start(ctx, "ingest.process",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("owner.id", job.OwnerID.String()),
			attribute.String("job.filename", job.Filename),
			attribute.StringSlice("job.schemas", job.SchemaSlugs),
		),
	)
	defer span.End()

	// Every terminal path below releases the staged file exactly once.
	defer e.removeStaged(context.WithoutCancel(ctx), job.StagedFileRef)

	logger.InfoContext(ctx, "processing upload job")
	e.metrics.job(ctx, "started")

	r := &run{job: job}
	if err := e.execute(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.ErrorContext(ctx, "upload job failed", "kind", KindOf(err), "error", err)
		if err := e.fail(ctx, job, r.committed, err); err != nil {
			return err
		}
		e.metrics.finished(ctx, string(store.JobStatusFailed), time.Since(started).Seconds())
		return nil
	}

	span.SetAttributes(
		attribute.Int("job.rows", len(r.table.Rows)),
		attribute.Int("job.failed_rows", len(r.failures)),
	)
	logger.InfoContext(ctx, "upload job completed",
		"total_rows", len(r.table.Rows),
		"failed_rows", len(r.failures),
	)
	e.metrics.job(ctx, "completed")
	e.metrics.finished(ctx, string(store.JobStatusCompleted), time.Since(started).Seconds())
	return nil
}

// fail records cause on the job. committed is the processed-row count that is
// known to be durable. A rejected write is retried once with a generic
// message; if that also fails the job is left unfinished and an error is
// returned.
func (e *Engine) fail(ctx context.Context, job *store.Job, committed int, cause error) error {
	ctx = context.WithoutCancel(ctx)

	failed := *job
	if err := failed.Transition(store.JobStatusFailed); err != nil {
		return newError(KindUnexpected, err, "cannot fail job %s", job.ID)
	}
	msg := strings.ToValidUTF8(cause.Error(), string(utf8.RuneError))
	now := e.now().UTC()
	failed.ProcessedRows = committed
	failed.ErrorMessage = &msg
	failed.CompletedAt = &now
	failed.ResultArtifactRef = nil
	failed.FailureArtifactRef = nil

	err := e.store.UpdateJob(ctx, nil, &failed)
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record job failure, retrying with a generic message", "job_id", job.ID, "error", err)
		generic := genericFailure
		failed.ErrorMessage = &generic
		err = e.store.UpdateJob(ctx, nil, &failed)
	}
	if err != nil {
		return newError(KindPersistence, err, "failed to record failure of job %s", job.ID)
	}
	*job = failed
	e.metrics.job(ctx, "failed")
	return nil
}

// execute runs parsing, row processing and finalization. Panics are turned
// into UnexpectedError.
func (e *Engine) execute(ctx context.Context, r *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = newError(KindUnexpected, nil, "unexpected error: %v", p)
		}
	}()

	if err := e.load(ctx, r); err != nil {
		return err
	}
	if err := e.checkCoverage(r); err != nil {
		return err
	}

	total := len(r.table.Rows)
	r.job.TotalRows = &total
	if err := e.store.UpdateJob(ctx, nil, r.job); err != nil {
		return newError(KindPersistence, err, "failed to record total rows")
	}

	if err := e.processRows(ctx, r); err != nil {
		return err
	}
	return e.finalize(ctx, r)
}

func (e *Engine) load(ctx context.Context, r *run) error {
	if _, err := tabular.DetectFormat(r.job.Filename); err != nil {
		return newError(KindParse, nil, "Unsupported file format: %s", strings.ToLower(filepath.Ext(r.job.Filename)))
	}

	body, err := e.blobs.Get(ctx, r.job.StagedFileRef)
	if errors.Is(err, blob.ErrNotFound) {
		return newError(KindParse, err, "Uploaded file is missing")
	}
	if err != nil {
		return newError(KindPersistence, err, "failed to open uploaded file")
	}
	defer body.Close()

	table, err := tabular.Read(r.job.Filename, body)
	if err != nil {
		return newError(KindParse, err, "Error reading file")
	}
	r.table = table
	return nil
}

func (e *Engine) checkCoverage(r *run) error {
	r.mappings = make([]map[string]string, len(r.job.Schemas))
	for i, sc := range r.job.Schemas {
		if ok, missing := schema.ValidateCoverage(sc.Fields, r.table.Columns); !ok {
			return newError(KindSchemaCoverage, nil, "Template '%s': Missing required variables: %s", sc.Slug, strings.Join(missing, ", "))
		}
		r.mappings[i] = schema.Match(sc.Fields, r.table.Columns)
	}
	return nil
}

// processRows walks the table in file order, committing every
// CheckpointEvery rows.
func (e *Engine) processRows(ctx context.Context, r *run) error {
	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return newError(KindPersistence, err, "failed to begin transaction")
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	total := len(r.table.Rows)
	pending := 0
	for i, row := range r.table.Rows {
		rec, err := e.processRow(ctx, tx, r, row.Values)
		switch {
		case err == nil:
			r.results = append(r.results, e.resultRow(r, row.Values, rec.Identifier))
			pending++
		case KindOf(err) == KindRowValidation:
			r.failures = append(r.failures, rowFailure{index: row.Index, row: row.Values, reason: err.Error(), kind: KindOf(err)})
			if float64(len(r.failures)) > float64(total)*e.cfg.FailureThreshold {
				return newError(KindThresholdExceeded, nil, "Too many rows failed (%d out of %d). Sample errors: %s",
					len(r.failures), i+1, sampleSummary(r.failures))
			}
		default:
			return err
		}

		if (i+1)%e.cfg.CheckpointEvery == 0 {
			if err := e.checkpoint(ctx, tx, r, i+1, pending); err != nil {
				return err
			}
			pending = 0
			if tx, err = e.store.BeginTx(ctx); err != nil {
				return newError(KindPersistence, err, "failed to begin transaction")
			}
		}
	}

	if err := e.checkpoint(ctx, tx, r, total, pending); err != nil {
		return err
	}
	tx = nil
	return nil
}

// checkpoint commits the open batch together with the processed-row count.
func (e *Engine) checkpoint(ctx context.Context, tx store.Tx, r *run, processed, succeeded int) error {
	r.job.ProcessedRows = processed
	if err := e.store.UpdateJob(ctx, tx, r.job); err != nil {
		return newError(KindPersistence, err, "failed to record progress")
	}
	if err := tx.Commit(); err != nil {
		return newError(KindPersistence, err, "failed to commit rows")
	}
	r.committed = processed
	e.metrics.row(ctx, "stored", succeeded)
	return nil
}

// processRow validates the row against every schema and stores it under a
// savepoint. Validation failures are KindRowValidation; anything else is
// fatal to the job.
func (e *Engine) processRow(ctx context.Context, tx store.Tx, r *run, row map[string]any) (*store.Record, error) {
	var payload map[string]any
	for i, sc := range r.job.Schemas {
		mapped := schema.MapRow(row, r.table.Columns, r.mappings[i])
		if err := coerce.Coerce(mapped, sc.Fields); err != nil {
			e.metrics.row(ctx, "invalid", 1)
			return nil, newError(KindRowValidation, err, "Template '%s'", sc.Slug)
		}
		if i == 0 {
			payload = normalize.Storage(mapped, sc.Types())
		}
	}

	exists := func(ctx context.Context, candidate string) (bool, error) {
		return e.store.RecordExistsByIdentifier(ctx, tx, candidate)
	}

	for attempt := 0; ; attempt++ {
		id, err := e.ids.Ensure(ctx, payload, exists)
		if err != nil {
			return nil, newError(KindPersistence, err, "failed to generate identifier")
		}

		now := e.now().UTC()
		rec := &store.Record{
			ID:          uuid.New(),
			Identifier:  id,
			Payload:     payload,
			SchemaSlugs: r.job.SchemaSlugs,
			JobID:       r.job.ID,
			OwnerID:     r.job.OwnerID,
			CreatedAt:   now,
			ExpiresAt:   now.Add(e.cfg.RecordRetention),
		}

		if err := tx.Savepoint(ctx, rowSavepoint); err != nil {
			return nil, newError(KindPersistence, err, "failed to set savepoint")
		}
		err = e.store.CreateRecord(ctx, tx, rec)
		if err == nil {
			if err := tx.ReleaseSavepoint(ctx, rowSavepoint); err != nil {
				return nil, newError(KindPersistence, err, "failed to release savepoint")
			}
			return rec, nil
		}
		if rbErr := tx.RollbackToSavepoint(ctx, rowSavepoint); rbErr != nil {
			return nil, newError(KindPersistence, rbErr, "failed to roll back row")
		}
		if !errors.Is(err, store.ErrDuplicateIdentifier) {
			return nil, newError(KindPersistence, err, "failed to store record")
		}
		if attempt >= e.cfg.MaxIdentifierRetries {
			return nil, newError(KindPersistence, err, "could not allocate a unique identifier after %d attempts", attempt+1)
		}
		e.logger.DebugContext(ctx, "identifier taken concurrently, re-probing", "job_id", r.job.ID, "identifier", id)
	}
}

// resultRow is the original row plus the identifier and one URL per schema.
func (e *Engine) resultRow(r *run, row map[string]any, identifier string) map[string]any {
	out := make(map[string]any, len(row)+1+len(r.job.SchemaSlugs))
	for k, v := range row {
		out[k] = v
	}
	out[ColIdentifier] = identifier
	for _, slug := range r.job.SchemaSlugs {
		out[slug+"_url"] = fmt.Sprintf("%s/%s/%s", e.cfg.Domain, slug, identifier)
	}
	return out
}

// finalize writes the artifacts and completes the job.
func (e *Engine) finalize(ctx context.Context, r *run) error {
	done := *r.job
	if len(r.results) > 0 {
		key := blob.ResultKey(done.ID)
		done.ResultArtifactRef = &key
	}
	if len(r.failures) > 0 {
		key := blob.FailureKey(done.ID)
		done.FailureArtifactRef = &key
	}

	g, gctx := errgroup.WithContext(ctx)
	if done.ResultArtifactRef != nil {
		g.Go(func() error {
			return e.writeArtifact(gctx, *done.ResultArtifactRef, e.resultColumns(r), r.results)
		})
	}
	if done.FailureArtifactRef != nil {
		g.Go(func() error {
			return e.writeArtifact(gctx, *done.FailureArtifactRef, failureColumns(r), failureRows(r))
		})
	}
	if err := g.Wait(); err != nil {
		return newError(KindPersistence, err, "failed to write artifacts")
	}

	if err := done.Transition(store.JobStatusCompleted); err != nil {
		return newError(KindUnexpected, err, "cannot complete job")
	}
	now := e.now().UTC()
	done.CompletedAt = &now
	if len(r.failures) > 0 {
		msg := fmt.Sprintf("Completed with %d failed rows. See '%s' for details. Sample errors: %s",
			len(r.failures), blob.FailureFilename(done.ID), sampleSummary(r.failures))
		done.ErrorMessage = &msg
	}

	if err := e.store.UpdateJob(ctx, nil, &done); err != nil {
		return newError(KindPersistence, err, "failed to complete job")
	}
	*r.job = done
	return nil
}

func (e *Engine) writeArtifact(ctx context.Context, key string, columns []string, rows []map[string]any) error {
	var buf bytes.Buffer
	if err := tabular.WriteCSV(&buf, columns, rows); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.blobs.Put(ctx, key, &buf, int64(buf.Len())); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (e *Engine) resultColumns(r *run) []string {
	cols := append([]string(nil), r.table.Columns...)
	cols = append(cols, ColIdentifier)
	for _, slug := range r.job.SchemaSlugs {
		cols = append(cols, slug+"_url")
	}
	return cols
}

func failureColumns(r *run) []string {
	cols := append([]string(nil), r.table.Columns...)
	return append(cols, ColRowNumber, ColOriginalIndex, ColErrorReason, ColErrorType)
}

func failureRows(r *run) []map[string]any {
	rows := make([]map[string]any, 0, len(r.failures))
	for _, f := range r.failures {
		out := make(map[string]any, len(f.row)+4)
		for k, v := range f.row {
			out[k] = v
		}
		out[ColRowNumber] = f.index + 1
		out[ColOriginalIndex] = f.index
		out[ColErrorReason] = f.reason
		out[ColErrorType] = string(f.kind)
		rows = append(rows, out)
	}
	return rows
}

// sampleSummary formats up to three failures as "Row N: reason".
func sampleSummary(failures []rowFailure) string {
	n := min(len(failures), sampleErrors)
	parts := make([]string, 0, n)
	for _, f := range failures[:n] {
		parts = append(parts, fmt.Sprintf("Row %d: %s", f.index+1, truncate(f.reason, sampleLength)))
	}
	return strings.Join(parts, "; ")
}

// truncate cuts s to at most n characters. Invalid UTF-8 is replaced so the
// result is always valid text.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, string(utf8.RuneError))
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
