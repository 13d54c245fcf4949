// Package worker drains the ingest queue and runs each job through the
// ingestion engine.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"templr/internal/ingest"
	"templr/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID                  string
	Concurrency         int
	PollInterval        time.Duration
	MaxBackoff          time.Duration // Maximum backoff when queue is empty (default: 30s)
	HeartbeatInterval   time.Duration // Interval between heartbeat calls (default: 2m)
	VisibilityExtension time.Duration // How long to extend visibility on heartbeat (default: 5m)
}

// Processor runs one ingestion job to a terminal state.
type Processor interface {
	Process(ctx context.Context, jobID uuid.UUID) error
}

// Agent is the pull-loop that claims queued jobs and processes them.
type Agent struct {
	queue     store.Queue
	processor Processor
	config    AgentConfig
	logger    *slog.Logger
	done      chan struct{}
}

// New creates a new worker agent.
func New(q store.Queue, p Processor, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 2 * time.Minute
	}

	if config.VisibilityExtension <= 0 {
		config.VisibilityExtension = 5 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		queue:     q,
		processor: p,
		config:    config,
		logger:    logger.With("agent_id", config.ID),
		done:      make(chan struct{}),
	}
}

// Run starts the main pull-loop. It blocks until the context is cancelled.
// On cancellation it stops claiming work and lets in-flight jobs finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent starting", "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Signals that a slot became available.
	pollNow := make(chan struct{}, 1)

	// Grows while the queue is empty, resets when work is found.
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running jobs to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			items, err := a.queue.DequeueBatch(ctx, availableSlots)
			if err != nil {
				a.logger.Error("dequeue failed", "error", err)
				continue
			}

			if len(items) == 0 {
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}

			currentBackoff = a.config.PollInterval
			a.logger.Info("claimed jobs", "count", len(items))

			for _, item := range items {
				sem <- struct{}{}

				wg.Add(1)
				go func(item store.QueueItem) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processItem(ctx, item)
				}(item)
			}

			if len(items) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// processItem runs a claimed job and acknowledges it once the job has been
// handled. Items whose processing could not start stay in the queue and are
// redelivered after their visibility timeout.
func (a *Agent) processItem(ctx context.Context, item store.QueueItem) {
	logger := a.logger.With("job_id", item.JobID, "attempt", item.Attempt)

	// Processing is detached from the poll context so shutdown drains it.
	traceCtx := context.WithoutCancel(ctx)
	var payload ingest.QueuePayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		logger.Warn("ignoring unreadable queue payload", "error", err)
	} else if payload.Trace != nil {
		traceCtx = otel.GetTextMapPropagator().Extract(traceCtx, payload.Trace)
	}

	tracer := otel.Tracer("worker-agent")
	spanCtx, span := tracer.Start(traceCtx, "process_upload_job",
		trace.WithAttributes(
			attribute.String("job.id", item.JobID.String()),
			attribute.Int("queue.attempt", item.Attempt),
			attribute.String("worker.id", a.config.ID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	heartbeatCtx, cancelHeartbeat := context.WithCancel(context.Background())
	defer cancelHeartbeat()
	go a.runHeartbeat(heartbeatCtx, item.JobID)

	err := a.processor.Process(spanCtx, item.JobID)
	cancelHeartbeat()

	switch {
	case err == nil:
		logger.Info("job handled")
	case errors.Is(err, ingest.ErrJobNotFound):
		logger.Warn("dropping queue item for unknown job")
	default:
		span.RecordError(err)
		logger.Error("job could not be processed, leaving for redelivery", "error", err)
		return
	}

	if err := a.queue.Ack(context.Background(), item.JobID); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

// runHeartbeat keeps the item invisible to other workers while it runs.
func (a *Agent) runHeartbeat(ctx context.Context, jobID uuid.UUID) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			visibleAfter := time.Now().Add(a.config.VisibilityExtension)
			if err := a.queue.SetVisibleAfter(context.Background(), jobID, visibleAfter); err != nil {
				a.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
			}
		}
	}
}
