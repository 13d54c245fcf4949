// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"templr/internal/ingest"
	"templr/internal/logger"
	"templr/internal/store"
	"templr/pkg/api"

	"github.com/google/uuid"
)

// DefaultMaxUploadBytes caps multipart upload bodies when no limit is set.
const DefaultMaxUploadBytes int64 = 50 << 20

// Ingestor is the subset of the ingestion engine the API serves.
type Ingestor interface {
	Submit(ctx context.Context, req ingest.SubmitRequest) (*store.Job, error)
	ListJobs(ctx context.Context, owner uuid.UUID, skip, limit int) ([]store.Job, error)
	GetJob(ctx context.Context, id, owner uuid.UUID) (*store.Job, error)
	OpenArtifact(ctx context.Context, id, owner uuid.UUID, kind ingest.ArtifactKind) (*ingest.Artifact, error)
	GetRecord(ctx context.Context, identifier string) (*store.Record, error)
	RenderRecord(ctx context.Context, slug, identifier string) (string, error)
}

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes the handlers.
type Options struct {
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	ingest         Ingestor
	db             Pinger
	maxUploadBytes int64
	logger         *slog.Logger
}

// New creates a new Handlers instance.
func New(ing Ingestor, db Pinger, opts Options) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handlers{
		ingest:         ing,
		db:             db,
		maxUploadBytes: opts.MaxUploadBytes,
		logger:         opts.Logger,
	}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// ingestError maps engine errors onto HTTP responses. Sentinels with a
// route-specific meaning are handled by the caller first.
func (h *Handlers) ingestError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ingest.ErrJobNotFound):
		h.httpError(w, "Upload job not found", http.StatusNotFound)
		return
	case errors.Is(err, ingest.ErrRecordNotFound):
		h.httpError(w, "Data not found", http.StatusNotFound)
		return
	case errors.Is(err, ingest.ErrRecordGone):
		h.httpError(w, "Data has expired", http.StatusGone)
		return
	case errors.Is(err, ingest.ErrSchemaNotAssociated):
		h.httpError(w, "Template not associated with this data", http.StatusNotFound)
		return
	}

	var ie *ingest.Error
	if errors.As(err, &ie) && errors.Is(err, ingest.ErrSchemaNotFound) {
		h.httpError(w, ie.Error(), http.StatusNotFound)
		return
	}
	if errors.As(err, &ie) && ie.Kind == ingest.KindClientInput {
		h.httpError(w, ie.Message, http.StatusBadRequest)
		return
	}

	logger.FromContext(r.Context(), h.logger).ErrorContext(r.Context(), "request failed",
		"path", r.URL.Path,
		"kind", ingest.KindOf(err),
		"error", err,
	)
	if ingest.KindOf(err) == ingest.KindRender {
		h.httpError(w, "Template rendering error", http.StatusInternalServerError)
		return
	}
	h.httpError(w, "Internal server error", http.StatusInternalServerError)
}
