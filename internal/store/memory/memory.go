// Package memory implements the store interfaces in process memory. It backs
// offline CLI runs and tests; writes made through a transaction are buffered
// until Commit.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"templr/internal/schema"
	"templr/internal/store"

	"github.com/google/uuid"
)

type schemaKey struct {
	owner uuid.UUID
	slug  string
}

// Store is a thread-safe in-memory store.
type Store struct {
	mu      sync.RWMutex
	jobs    map[uuid.UUID]store.Job
	records map[string]store.Record
	schemas map[schemaKey]schema.Schema
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		jobs:    make(map[uuid.UUID]store.Job),
		records: make(map[string]store.Record),
		schemas: make(map[schemaKey]schema.Schema),
	}
}

// BeginTx starts a buffered transaction.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	return &tx{store: s, marks: make(map[string]mark)}, nil
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *store.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

// UpdateJob writes the job immediately, or at Commit when tx is given.
func (s *Store) UpdateJob(ctx context.Context, t store.Tx, job *store.Job) error {
	if t != nil {
		mt, err := asTx(t)
		if err != nil {
			return err
		}
		return mt.updateJob(job)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUpdateLocked(job); err != nil {
		return err
	}
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

func (s *Store) checkUpdateLocked(job *store.Job) error {
	current, ok := s.jobs[job.ID]
	if !ok || current.Status.Terminal() {
		return fmt.Errorf("%w: job %s is missing or already final", store.ErrInvalidTransition, job.ID)
	}
	return nil
}

// GetJobByID returns a copy of the job. uuid.Nil owner means unscoped.
func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID, owner uuid.UUID) (*store.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok || (owner != uuid.Nil && job.OwnerID != owner) {
		return nil, store.ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

// ListJobsByOwner returns the owner's jobs, newest first.
func (s *Store) ListJobsByOwner(ctx context.Context, owner uuid.UUID, skip, limit int) ([]store.Job, error) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	jobs := []store.Job{}
	for _, job := range s.jobs {
		if job.OwnerID == owner {
			jobs = append(jobs, cloneJob(job))
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if skip >= len(jobs) {
		return []store.Job{}, nil
	}
	jobs = jobs[skip:]
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// CreateRecord inserts a record immediately, or buffers it in tx.
func (s *Store) CreateRecord(ctx context.Context, t store.Tx, rec *store.Record) error {
	if t != nil {
		mt, err := asTx(t)
		if err != nil {
			return err
		}
		return mt.createRecord(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.Identifier]; ok {
		return fmt.Errorf("%w: %s", store.ErrDuplicateIdentifier, rec.Identifier)
	}
	s.records[rec.Identifier] = cloneRecord(*rec)
	return nil
}

// RecordExistsByIdentifier checks committed records and those buffered in tx.
func (s *Store) RecordExistsByIdentifier(ctx context.Context, t store.Tx, identifier string) (bool, error) {
	s.mu.RLock()
	_, ok := s.records[identifier]
	s.mu.RUnlock()
	if ok || t == nil {
		return ok, nil
	}

	mt, err := asTx(t)
	if err != nil {
		return false, err
	}
	return mt.hasRecord(identifier), nil
}

// GetRecordByIdentifier returns a committed record.
func (s *Store) GetRecordByIdentifier(ctx context.Context, identifier string) (*store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identifier]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

// RecordsByJob returns the committed records of a job ordered by identifier.
func (s *Store) RecordsByJob(jobID uuid.UUID) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Record
	for _, rec := range s.records {
		if rec.JobID == jobID {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// GetSchemaBySlug returns the owner's schema.
func (s *Store) GetSchemaBySlug(ctx context.Context, slug string, owner uuid.UUID) (*schema.Schema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schemas[schemaKey{owner: owner, slug: slug}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sc, nil
}

// PutSchema creates or replaces a schema.
func (s *Store) PutSchema(ctx context.Context, sc *schema.Schema) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := schemaKey{owner: sc.OwnerID, slug: sc.Slug}
	if existing, ok := s.schemas[key]; ok {
		sc.ID = existing.ID
	} else if sc.ID == uuid.Nil {
		sc.ID = uuid.New()
	}
	s.schemas[key] = *sc
	return nil
}

var errTxDone = errors.New("memory: transaction already finished")

type mark struct {
	records int
	jobs    int
}

// tx buffers writes until Commit.
type tx struct {
	store *Store

	mu      sync.Mutex
	records []store.Record
	jobs    []store.Job
	marks   map[string]mark
	done    bool
}

func asTx(t store.Tx) (*tx, error) {
	mt, ok := t.(*tx)
	if !ok {
		return nil, fmt.Errorf("memory: foreign transaction type %T", t)
	}
	return mt, nil
}

func (t *tx) createRecord(rec *store.Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}

	t.store.mu.RLock()
	_, committed := t.store.records[rec.Identifier]
	t.store.mu.RUnlock()
	if committed || t.hasRecordLocked(rec.Identifier) {
		return fmt.Errorf("%w: %s", store.ErrDuplicateIdentifier, rec.Identifier)
	}

	t.records = append(t.records, cloneRecord(*rec))
	return nil
}

func (t *tx) updateJob(job *store.Job) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.jobs = append(t.jobs, cloneJob(*job))
	return nil
}

func (t *tx) hasRecord(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasRecordLocked(identifier)
}

func (t *tx) hasRecordLocked(identifier string) bool {
	for _, rec := range t.records {
		if rec.Identifier == identifier {
			return true
		}
	}
	return false
}

// Commit applies buffered writes atomically. Nothing is applied if any
// write conflicts with committed state.
func (t *tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range t.records {
		if _, ok := s.records[rec.Identifier]; ok {
			return fmt.Errorf("%w: %s", store.ErrDuplicateIdentifier, rec.Identifier)
		}
	}
	for i := range t.jobs {
		if err := s.checkUpdateLocked(&t.jobs[i]); err != nil {
			return err
		}
	}

	for _, rec := range t.records {
		s.records[rec.Identifier] = rec
	}
	for _, job := range t.jobs {
		s.jobs[job.ID] = job
	}
	return nil
}

// Rollback discards buffered writes. Rolling back a finished transaction is
// a no-op, matching database/sql usage with defer.
func (t *tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.done = true
	t.records = nil
	t.jobs = nil
	return nil
}

func (t *tx) Savepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	t.marks[name] = mark{records: len(t.records), jobs: len(t.jobs)}
	return nil
}

func (t *tx) RollbackToSavepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	m, ok := t.marks[name]
	if !ok {
		return fmt.Errorf("memory: savepoint %q does not exist", name)
	}
	t.records = t.records[:m.records]
	t.jobs = t.jobs[:m.jobs]
	return nil
}

func (t *tx) ReleaseSavepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return errTxDone
	}
	if _, ok := t.marks[name]; !ok {
		return fmt.Errorf("memory: savepoint %q does not exist", name)
	}
	delete(t.marks, name)
	return nil
}

func cloneJob(j store.Job) store.Job {
	j.SchemaSlugs = append([]string(nil), j.SchemaSlugs...)
	j.Schemas = append([]schema.Schema(nil), j.Schemas...)
	j.TotalRows = clonePtr(j.TotalRows)
	j.ResultArtifactRef = clonePtr(j.ResultArtifactRef)
	j.FailureArtifactRef = clonePtr(j.FailureArtifactRef)
	j.ErrorMessage = clonePtr(j.ErrorMessage)
	j.StartedAt = clonePtr(j.StartedAt)
	j.CompletedAt = clonePtr(j.CompletedAt)
	return j
}

func cloneRecord(r store.Record) store.Record {
	r.SchemaSlugs = append([]string(nil), r.SchemaSlugs...)
	payload := make(map[string]any, len(r.Payload))
	for k, v := range r.Payload {
		payload[k] = v
	}
	r.Payload = payload
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
