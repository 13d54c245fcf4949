// Package main is the entry point for the templr worker.
// The worker drains the ingest queue and runs each job through the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"templr/internal/blob"
	"templr/internal/config"
	"templr/internal/ingest"
	"templr/internal/logger"
	"templr/internal/observability"
	"templr/internal/render"
	"templr/internal/store/postgres"
	"templr/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: templr.yaml in current directory)")
	metricsAddr := flag.String("metrics-addr", ":6162", "Listen address for the metrics server")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	lg, closeLog, err := logger.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()
	slog.SetDefault(lg)

	if err := run(cfg, *metricsAddr, lg); err != nil {
		lg.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, metricsAddr string, lg *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := observability.InitTracer(ctx, "templr-worker", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			lg.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			lg.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pg.Close()

	var blobs blob.Store
	if cfg.StorageBackend == config.StorageMinio {
		blobs, err = blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	} else {
		blobs, err = blob.NewLocal(cfg.StorageDir)
	}
	if err != nil {
		return err
	}

	engine := ingest.New(ingest.Config{
		Domain:           cfg.Domain,
		CheckpointEvery:  cfg.CheckpointEvery,
		FailureThreshold: cfg.FailureThreshold,
		RecordRetention:  cfg.RecordRetention,
	}, ingest.Deps{
		Store:    pg,
		Blobs:    blobs,
		Renderer: render.NewPongo(),
		Logger:   lg,
	})

	agent := worker.New(pg, engine, worker.AgentConfig{
		ID:                  cfg.WorkerID,
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		MaxBackoff:          cfg.WorkerMaxBackoff,
		HeartbeatInterval:   cfg.WorkerHeartbeatInterval,
		VisibilityExtension: cfg.HeartVisibilityExtension,
	}, lg)

	lg.Info("worker started", "concurrency", cfg.WorkerConcurrency)
	go agent.Run(ctx)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		lg.Info("worker metrics listening", "addr", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			lg.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	lg.Info("shutting down worker")
	cancel()

	<-agent.Done()
	return nil
}
