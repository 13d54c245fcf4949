package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for ingestion queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics.
type Queue interface {
	// Enqueue adds a job to the queue. tx may be nil.
	Enqueue(ctx context.Context, tx Tx, jobID uuid.UUID, payload json.RawMessage, visibleAfter time.Time) (int64, error)

	// DequeueBatch claims up to 'limit' visible jobs atomically.
	// Returns nil slice if queue is empty.
	DequeueBatch(ctx context.Context, limit int) ([]QueueItem, error)

	// Ack removes a processed job from the queue.
	Ack(ctx context.Context, jobID uuid.UUID) error

	// SetVisibleAfter extends the visibility timeout (heartbeat).
	SetVisibleAfter(ctx context.Context, jobID uuid.UUID, visibleAfter time.Time) error

	// Count tracks count of items in queue
	Count(ctx context.Context) (int64, error)
}

// QueueItem represents a dequeued ingestion job.
type QueueItem struct {
	JobID    uuid.UUID
	Attempt  int
	Payload  json.RawMessage
	Enqueued time.Time
}
