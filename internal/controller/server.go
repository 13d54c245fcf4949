// Package controller contains the controller-specific logic for the HTTP API.
package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"templr/internal/controller/handlers"
	"templr/internal/controller/middleware"
	"templr/internal/observability"
)

// Server is the HTTP server for the controller API.
type Server struct {
	httpServer *http.Server
}

// Config wires the server's collaborators.
type Config struct {
	Addr           string
	Ingestor       handlers.Ingestor
	DB             handlers.Pinger
	MetricsHandler http.Handler
	RateLimiter    *middleware.RateLimiter
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// New creates a new controller server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           Routes(cfg),
			ReadHeaderTimeout: 10 * time.Second,
			// Uploads and artifact downloads stream whole files.
			ReadTimeout:  5 * time.Minute,
			WriteTimeout: 5 * time.Minute,
		},
	}
}

// Routes builds the HTTP handler tree.
func Routes(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := handlers.New(cfg.Ingestor, cfg.DB, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         cfg.Logger,
	})

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, 0)
	}

	owned := func(route string, fn http.HandlerFunc) http.Handler {
		return observability.HTTPMiddleware(route, middleware.Owner(fn))
	}
	public := func(route string, fn http.HandlerFunc) http.Handler {
		return observability.HTTPMiddleware(route, fn)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	if cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", cfg.MetricsHandler)
	}

	// Owner-scoped apis
	mux.Handle("POST /uploads", observability.HTTPMiddleware("uploads",
		middleware.Owner(limiter.Middleware()(http.HandlerFunc(h.CreateUpload)))))
	mux.Handle("GET /uploads/jobs", owned("jobs", h.ListJobs))
	mux.Handle("GET /uploads/jobs/{id}", owned("job", h.GetJob))
	mux.Handle("GET /uploads/jobs/{id}/download", owned("download", h.DownloadResults))
	mux.Handle("GET /uploads/jobs/{id}/download-failed", owned("download_failed", h.DownloadFailures))

	// Public lookups. The render route matches result URLs; the more
	// specific /data/ pattern wins for a slug named "data".
	mux.Handle("GET /data/{identifier}", public("data", h.GetRecord))
	mux.Handle("GET /{slug}/{identifier}", public("render", h.RenderRecord))

	return middleware.RequestID(middleware.AccessLog(cfg.Logger)(mux))
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return s.Shutdown(shutDownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
