package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"templr/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// ProcessFunc runs one job to completion.
type ProcessFunc func(ctx context.Context, jobID uuid.UUID) error

// Pool processes jobs on a bounded set of goroutines inside the current
// process. Dispatch never blocks; excess jobs wait for a free slot.
type Pool struct {
	process ProcessFunc
	sem     chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewPool returns a pool running at most size jobs at once.
func NewPool(size int, process ProcessFunc, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		process: process,
		sem:     make(chan struct{}, size),
		logger:  logger,
	}
}

// Dispatch schedules the job. The job keeps running after ctx is cancelled.
func (p *Pool) Dispatch(ctx context.Context, job *store.Job) error {
	ctx = context.WithoutCancel(ctx)
	jobID := job.ID

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.logger.ErrorContext(ctx, "job processing panicked", "job_id", jobID, "panic", r)
			}
		}()

		if err := p.process(ctx, jobID); err != nil {
			p.logger.ErrorContext(ctx, "job processing failed", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every dispatched job has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// QueuePayload is the body of an ingest_queue item.
type QueuePayload struct {
	JobID uuid.UUID              `json:"job_id"`
	Trace propagation.MapCarrier `json:"trace,omitempty"`
}

// QueueDispatcher hands jobs to worker processes through the durable queue.
type QueueDispatcher struct {
	queue store.Queue
}

// NewQueueDispatcher returns a dispatcher enqueueing onto q.
func NewQueueDispatcher(q store.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

// Dispatch enqueues the job with the caller's trace context attached.
func (d *QueueDispatcher) Dispatch(ctx context.Context, job *store.Job) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	payload, err := json.Marshal(QueuePayload{JobID: job.ID, Trace: carrier})
	if err != nil {
		return fmt.Errorf("failed to encode queue payload: %w", err)
	}
	if _, err := d.queue.Enqueue(ctx, nil, job.ID, payload, time.Now()); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}
