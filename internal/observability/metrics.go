// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "templr"

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), provider.Shutdown, nil
}

// QueueCounter reports how many items wait in the ingest queue.
type QueueCounter interface {
	Count(ctx context.Context) (int64, error)
}

// RegisterQueueDepth exposes the queue depth as an observable gauge. The
// queue is only counted when metrics are scraped.
func RegisterQueueDepth(q QueueCounter, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("templr.ingest.queue.depth",
		metric.WithDescription("Current number of upload jobs waiting in the queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := q.Count(ctx)
			if err != nil {
				// A failed count must not fail the whole scrape.
				logger.WarnContext(ctx, "failed to count queue depth", "error", err)
				return nil
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register queue depth metric: %w", err)
	}
	return nil
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware counts requests and records their latency under route.
func HTTPMiddleware(route string, next http.Handler) http.Handler {
	meter := otel.Meter(meterName)
	requests, _ := meter.Int64Counter("templr.http.requests",
		metric.WithDescription("HTTP requests served"))
	latency, _ := meter.Float64Histogram("templr.http.duration",
		metric.WithDescription("HTTP request latency"),
		metric.WithUnit("s"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		attrs := metric.WithAttributes(
			attribute.String("route", route),
			attribute.String("code", strconv.Itoa(sw.status)),
		)
		if requests != nil {
			requests.Add(r.Context(), 1, attrs)
		}
		if latency != nil {
			latency.Record(r.Context(), time.Since(start).Seconds(), attrs)
		}
	})
}
