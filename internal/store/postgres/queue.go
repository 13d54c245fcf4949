package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"templr/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// VisibilityTimeout is how long a claimed job stays hidden from other
// workers before it is considered abandoned.
const VisibilityTimeout = 5 * time.Minute

// Enqueue adds a job to the ingest_queue.
func (s *Store) Enqueue(ctx context.Context, tx store.Tx, jobID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error) {
	if visibleAfter.IsZero() {
		visibleAfter = time.Now()
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	executor, err := s.getExecutor(tx)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO ingest_queue (job_id, payload, visible_after)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	err = executor.QueryRowContext(ctx, query, jobID, []byte(payload), visibleAfter).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job %s: %w", jobID, err)
	}
	return id, nil
}

// DequeueBatch claims up to 'limit' visible jobs atomically using SELECT ... FOR UPDATE SKIP LOCKED.
// Returns nil slice if no jobs are available.
func (s *Store) DequeueBatch(ctx context.Context, limit int) ([]store.QueueItem, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, job_id, attempt, payload, created_at
		FROM ingest_queue
		WHERE visible_after <= NOW()
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("batch dequeue query failed: %w", err)
	}
	defer rows.Close()

	var items []store.QueueItem
	var queueIDs []int64

	for rows.Next() {
		var queueID int64
		var item store.QueueItem
		if err := rows.Scan(&queueID, &item.JobID, &item.Attempt, &item.Payload, &item.Enqueued); err != nil {
			return nil, fmt.Errorf("batch dequeue scan failed: %w", err)
		}
		item.Attempt++
		items = append(items, item)
		queueIDs = append(queueIDs, queueID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch dequeue rows error: %w", err)
	}

	if len(items) == 0 {
		return nil, nil
	}

	// Hide claimed jobs until the heartbeat or the visibility timeout says otherwise.
	_, err = tx.ExecContext(ctx, `
		UPDATE ingest_queue
		SET visible_after = NOW() + ($1 * INTERVAL '1 second'), attempt = attempt + 1
		WHERE id = ANY($2)
	`, VisibilityTimeout.Seconds(), pq.Array(queueIDs))
	if err != nil {
		return nil, fmt.Errorf("batch visibility update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return items, nil
}

// Ack removes a job from the queue once processing has reached a final state.
func (s *Store) Ack(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM ingest_queue WHERE job_id = $1", jobID)
	if err != nil {
		return fmt.Errorf("failed to ack job %s: %w", jobID, err)
	}
	return nil
}

// SetVisibleAfter extends the heartbeat.
func (s *Store) SetVisibleAfter(ctx context.Context, jobID uuid.UUID, visibleAfter time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_queue
		SET visible_after = $1
		WHERE job_id = $2
	`, visibleAfter, jobID)
	return err
}

// Count returns the number of queued jobs, claimed or not.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ingest_queue").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}
