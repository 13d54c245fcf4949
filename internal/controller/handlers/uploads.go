package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"templr/internal/controller/middleware"
	"templr/internal/ingest"
	"templr/internal/store"
	"templr/pkg/api"

	"github.com/google/uuid"
)

const (
	defaultJobLimit = 100
	maxJobLimit     = 1000
	multipartMemory = 8 << 20
)

// CreateUpload handles POST /uploads.
// It stages the multipart file and schedules an ingestion job.
func (h *Handlers) CreateUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.httpError(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.httpError(w, "Invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	var slugs []string
	if err := json.Unmarshal([]byte(r.FormValue(api.FormTemplateSlugs)), &slugs); err != nil {
		h.httpError(w, "Invalid template_slugs format", http.StatusBadRequest)
		return
	}
	if len(slugs) == 0 {
		h.httpError(w, "At least one template slug is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile(api.FormFile)
	if err != nil {
		h.httpError(w, "A file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	job, err := h.ingest.Submit(ctx, ingest.SubmitRequest{
		OwnerID:     ownerID,
		Filename:    header.Filename,
		Content:     file,
		Size:        header.Size,
		SchemaSlugs: slugs,
	})
	if err != nil {
		h.ingestError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.UploadResponse{
		JobID:   job.ID.String(),
		Status:  string(job.Status),
		Message: "Upload accepted for processing",
	})
}

// ListJobs handles GET /uploads/jobs?skip=&limit=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, ok := middleware.OwnerIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	skip, err := queryInt(r, "skip", 0)
	if err != nil || skip < 0 {
		h.httpError(w, "Invalid skip", http.StatusBadRequest)
		return
	}
	limit, err := queryInt(r, "limit", defaultJobLimit)
	if err != nil || limit <= 0 || limit > maxJobLimit {
		h.httpError(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	jobs, err := h.ingest.ListJobs(ctx, ownerID, skip, limit)
	if err != nil {
		h.ingestError(w, r, err)
		return
	}

	resp := api.JobListResponse{Jobs: make([]api.JobResponse, 0, len(jobs)), Skip: skip, Limit: limit}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(&jobs[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// GetJob handles GET /uploads/jobs/{id}.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ownerID, jobID, ok := h.jobParams(w, r)
	if !ok {
		return
	}

	job, err := h.ingest.GetJob(ctx, jobID, ownerID)
	if err != nil {
		h.ingestError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toJobResponse(job))
}

// DownloadResults handles GET /uploads/jobs/{id}/download.
func (h *Handlers) DownloadResults(w http.ResponseWriter, r *http.Request) {
	ownerID, jobID, ok := h.jobParams(w, r)
	if !ok {
		return
	}

	artifact, err := h.ingest.OpenArtifact(r.Context(), jobID, ownerID, ingest.ArtifactResults)
	switch {
	case errors.Is(err, ingest.ErrArtifactNotReady):
		h.httpError(w, "Result file not available", http.StatusBadRequest)
		return
	case errors.Is(err, ingest.ErrArtifactNotFound):
		h.httpError(w, "Result file not found", http.StatusNotFound)
		return
	case err != nil:
		h.ingestError(w, r, err)
		return
	}
	h.serveArtifact(w, r, artifact)
}

// DownloadFailures handles GET /uploads/jobs/{id}/download-failed.
func (h *Handlers) DownloadFailures(w http.ResponseWriter, r *http.Request) {
	ownerID, jobID, ok := h.jobParams(w, r)
	if !ok {
		return
	}

	artifact, err := h.ingest.OpenArtifact(r.Context(), jobID, ownerID, ingest.ArtifactFailures)
	switch {
	case errors.Is(err, ingest.ErrArtifactNotFound):
		h.httpError(w, "Failed rows file not available", http.StatusNotFound)
		return
	case err != nil:
		h.ingestError(w, r, err)
		return
	}
	h.serveArtifact(w, r, artifact)
}

func (h *Handlers) serveArtifact(w http.ResponseWriter, r *http.Request, artifact *ingest.Artifact) {
	defer artifact.Body.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, artifact.Body); err != nil {
		h.logger.WarnContext(r.Context(), "artifact download interrupted", "filename", artifact.Filename, "error", err)
	}
}

func (h *Handlers) jobParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := middleware.OwnerIDFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, jobID, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func toJobResponse(job *store.Job) api.JobResponse {
	slugs := job.SchemaSlugs
	if slugs == nil {
		slugs = []string{}
	}
	return api.JobResponse{
		ID:            job.ID.String(),
		Filename:      job.Filename,
		Status:        string(job.Status),
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		TemplateSlugs: slugs,
		HasResults:    job.ResultArtifactRef != nil,
		HasFailures:   job.FailureArtifactRef != nil,
		ErrorMessage:  job.ErrorMessage,
		CreatedAt:     job.CreatedAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
	}
}
