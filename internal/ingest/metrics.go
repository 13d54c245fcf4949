package ingest

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "templr/ingest"

// instruments holds the engine's OTel instruments. Instruments that fail to
// register stay nil and are skipped.
type instruments struct {
	jobs     metric.Int64Counter
	rows     metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(logger *slog.Logger) instruments {
	meter := otel.Meter(instrumentationName)
	var in instruments
	var err error

	in.jobs, err = meter.Int64Counter("templr.ingest.jobs",
		metric.WithDescription("Ingestion jobs by lifecycle event"),
	)
	if err != nil {
		logger.Warn("failed to register jobs counter", "error", err)
	}

	in.rows, err = meter.Int64Counter("templr.ingest.rows",
		metric.WithDescription("Rows handled by outcome"),
	)
	if err != nil {
		logger.Warn("failed to register rows counter", "error", err)
	}

	in.duration, err = meter.Float64Histogram("templr.ingest.job.duration",
		metric.WithDescription("Wall time of background job processing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to register duration histogram", "error", err)
	}
	return in
}

func (in instruments) job(ctx context.Context, event string) {
	if in.jobs != nil {
		in.jobs.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
	}
}

func (in instruments) row(ctx context.Context, outcome string, n int) {
	if in.rows != nil && n > 0 {
		in.rows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (in instruments) finished(ctx context.Context, status string, seconds float64) {
	if in.duration != nil {
		in.duration.Record(ctx, seconds, metric.WithAttributes(attribute.String("status", status)))
	}
}
