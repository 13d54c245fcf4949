// Package main is the entry point for the templr controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"templr/internal/blob"
	"templr/internal/config"
	"templr/internal/controller"
	"templr/internal/controller/middleware"
	"templr/internal/ingest"
	"templr/internal/logger"
	"templr/internal/observability"
	"templr/internal/render"
	"templr/internal/schema"
	"templr/internal/store"
	"templr/internal/store/cache"
	"templr/internal/store/postgres"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: templr.yaml in current directory)")
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

	if err := run(cfg, lg); err != nil {
		lg.Error("controller stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Postgres applies migrations on connect.
	pg, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to DB: %w", err)
	}
	defer pg.Close()

	shutdownTracer, err := observability.InitTracer(ctx, "templr-controller", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("failed to shutdown metrics", "error", err)
		}
	}()
	if err := observability.RegisterQueueDepth(pg, logger); err != nil {
		logger.Warn("failed to register queue depth metric", "error", err)
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		return err
	}

	var st store.Store = pg
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		st = cache.New(pg, rdb, cache.DefaultMaxTTL, logger)
		logger.Info("record cache enabled")
	}

	if cfg.SchemaFile != "" {
		if err := seedSchemas(ctx, st, cfg.SchemaFile, logger); err != nil {
			return err
		}
	}

	engine := ingest.New(ingest.Config{
		Domain:           cfg.Domain,
		CheckpointEvery:  cfg.CheckpointEvery,
		FailureThreshold: cfg.FailureThreshold,
		RecordRetention:  cfg.RecordRetention,
	}, ingest.Deps{
		Store:    st,
		Blobs:    blobs,
		Renderer: render.NewPongo(),
		Logger:   logger,
	})

	var pool *ingest.Pool
	switch cfg.DispatchMode {
	case config.DispatchInline:
		pool = ingest.NewPool(cfg.WorkerConcurrency, engine.Process, logger)
		engine.UseDispatcher(pool)
	default:
		engine.UseDispatcher(ingest.NewQueueDispatcher(pg))
	}
	logger.Info("dispatch configured", "mode", cfg.DispatchMode)

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Config{
		Addr:           addr,
		Ingestor:       engine,
		DB:             pg,
		MetricsHandler: metricsHandler,
		RateLimiter:    middleware.NewRateLimiter(cfg.UploadRateLimit, cfg.UploadRateBurst),
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})

	go func() {
		logger.Info("templr controller starting", "addr", addr)
		if err := srv.Run(ctx); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down controller")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if pool != nil {
		// Inline jobs run detached from requests; let them finish.
		pool.Wait()
	}
	logger.Info("server exited properly")
	return nil
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.StorageBackend == config.StorageMinio {
		return blob.NewMinio(ctx, blob.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	}
	return blob.NewLocal(cfg.StorageDir)
}

// seedSchemas upserts the templates of a YAML file. Each template must name
// the owner it belongs to.
func seedSchemas(ctx context.Context, st store.Store, path string, logger *slog.Logger) error {
	schemas, err := schema.LoadFile(path)
	if err != nil {
		return err
	}
	for i := range schemas {
		sc := &schemas[i]
		if sc.OwnerID == uuid.Nil {
			return fmt.Errorf("template %q in %s has no owner_id", sc.Slug, path)
		}
		if err := st.PutSchema(ctx, sc); err != nil {
			return err
		}
		logger.Info("template loaded", "slug", sc.Slug, "owner_id", sc.OwnerID)
	}
	return nil
}
