package memory

import (
	"context"
	"testing"
	"time"

	"templr/internal/schema"
	"templr/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(identifier string) *store.Record {
	return &store.Record{
		ID:         uuid.New(),
		Identifier: identifier,
		Payload:    map[string]any{"name": "Ada"},
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestTx_BuffersUntilCommit(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CreateRecord(ctx, tx, newRecord("aaaa1111")))

	exists, err := s.RecordExistsByIdentifier(ctx, tx, "aaaa1111")
	require.NoError(t, err)
	assert.True(t, exists, "visible inside the transaction")

	exists, err = s.RecordExistsByIdentifier(ctx, nil, "aaaa1111")
	require.NoError(t, err)
	assert.False(t, exists, "invisible outside before commit")

	require.NoError(t, tx.Commit())

	rec, err := s.GetRecordByIdentifier(ctx, "aaaa1111")
	require.NoError(t, err)
	assert.Equal(t, "Ada", rec.Payload["name"])
}

func TestTx_RollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.BeginTx(ctx)
	require.NoError(t, s.CreateRecord(ctx, tx, newRecord("aaaa1111")))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback())

	_, err := s.GetRecordByIdentifier(ctx, "aaaa1111")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Error(t, tx.Commit())
}

func TestTx_SavepointRollback(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, _ := s.BeginTx(ctx)
	require.NoError(t, s.CreateRecord(ctx, tx, newRecord("keep0001")))

	require.NoError(t, tx.Savepoint(ctx, "row_2"))
	require.NoError(t, s.CreateRecord(ctx, tx, newRecord("drop0002")))
	require.NoError(t, tx.RollbackToSavepoint(ctx, "row_2"))
	require.NoError(t, tx.ReleaseSavepoint(ctx, "row_2"))
	assert.Error(t, tx.ReleaseSavepoint(ctx, "row_2"))

	require.NoError(t, tx.Commit())

	_, err := s.GetRecordByIdentifier(ctx, "keep0001")
	assert.NoError(t, err)
	_, err = s.GetRecordByIdentifier(ctx, "drop0002")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateRecord_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.CreateRecord(ctx, nil, newRecord("dup00001")))

	tx, _ := s.BeginTx(ctx)
	err := s.CreateRecord(ctx, tx, newRecord("dup00001"))
	assert.ErrorIs(t, err, store.ErrDuplicateIdentifier)

	require.NoError(t, s.CreateRecord(ctx, tx, newRecord("new00001")))
	err = s.CreateRecord(ctx, tx, newRecord("new00001"))
	assert.ErrorIs(t, err, store.ErrDuplicateIdentifier)
}

func TestCommit_ConflictAppliesNothing(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx1, _ := s.BeginTx(ctx)
	tx2, _ := s.BeginTx(ctx)
	require.NoError(t, s.CreateRecord(ctx, tx1, newRecord("race0001")))
	require.NoError(t, s.CreateRecord(ctx, tx1, newRecord("only0001")))
	require.NoError(t, s.CreateRecord(ctx, tx2, newRecord("race0001")))

	require.NoError(t, tx2.Commit())
	assert.ErrorIs(t, tx1.Commit(), store.ErrDuplicateIdentifier)

	_, err := s.GetRecordByIdentifier(ctx, "only0001")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobs_UpdateAndList(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		job := &store.Job{ID: uuid.New(), OwnerID: owner, Status: store.JobStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		require.NoError(t, s.CreateJob(ctx, job))
		ids = append(ids, job.ID)
	}
	require.NoError(t, s.CreateJob(ctx, &store.Job{ID: uuid.New(), OwnerID: uuid.New(), CreatedAt: base}))

	jobs, err := s.ListJobsByOwner(ctx, owner, 0, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1], ids[0]}, []uuid.UUID{jobs[0].ID, jobs[1].ID, jobs[2].ID})

	page, err := s.ListJobsByOwner(ctx, owner, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	empty, err := s.ListJobsByOwner(ctx, owner, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetJobByID(ctx, ids[0], uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	job, err := s.GetJobByID(ctx, ids[0], owner)
	require.NoError(t, err)
	job.Status = store.JobStatusFailed
	require.NoError(t, s.UpdateJob(ctx, nil, job))

	job.Status = store.JobStatusCompleted
	assert.ErrorIs(t, s.UpdateJob(ctx, nil, job), store.ErrInvalidTransition)

	stored, err := s.GetJobByID(ctx, ids[0], uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, store.JobStatusFailed, stored.Status)
}

func TestJobs_ReturnedCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	total := 5
	job := &store.Job{ID: uuid.New(), Status: store.JobStatusPending, TotalRows: &total, SchemaSlugs: []string{"a"}}
	require.NoError(t, s.CreateJob(ctx, job))

	total = 99
	job.SchemaSlugs[0] = "changed"

	got, err := s.GetJobByID(ctx, job.ID, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, 5, *got.TotalRows)
	assert.Equal(t, []string{"a"}, got.SchemaSlugs)
}

func TestSchemas_PutAndGet(t *testing.T) {
	ctx := context.Background()
	s := New()
	owner := uuid.New()

	sc := &schema.Schema{Slug: "invoice", OwnerID: owner, Fields: []schema.FieldSpec{{Name: "a", Type: schema.TypeString}}}
	require.NoError(t, s.PutSchema(ctx, sc))
	firstID := sc.ID
	assert.NotEqual(t, uuid.Nil, firstID)

	replacement := &schema.Schema{Slug: "invoice", OwnerID: owner, Content: "v2", Fields: sc.Fields}
	require.NoError(t, s.PutSchema(ctx, replacement))
	assert.Equal(t, firstID, replacement.ID)

	got, err := s.GetSchemaBySlug(ctx, "invoice", owner)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)

	_, err = s.GetSchemaBySlug(ctx, "invoice", uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, s.PutSchema(ctx, &schema.Schema{Slug: "bad", Fields: []schema.FieldSpec{{Name: "a", Type: "bool"}}}))
}
