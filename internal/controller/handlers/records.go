package handlers

import (
	"io"
	"net/http"

	"templr/pkg/api"
)

// GetRecord handles GET /data/{identifier}. It is public.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ingest.GetRecord(r.Context(), r.PathValue("identifier"))
	if err != nil {
		h.ingestError(w, r, err)
		return
	}

	slugs := rec.SchemaSlugs
	if slugs == nil {
		slugs = []string{}
	}
	h.respondJson(w, http.StatusOK, api.RecordResponse{
		Identifier:    rec.Identifier,
		Payload:       rec.Payload,
		TemplateSlugs: slugs,
		CreatedAt:     rec.CreatedAt,
		ExpiresAt:     rec.ExpiresAt,
	})
}

// RenderRecord handles GET /{slug}/{identifier}, the public result URL.
func (h *Handlers) RenderRecord(w http.ResponseWriter, r *http.Request) {
	out, err := h.ingest.RenderRecord(r.Context(), r.PathValue("slug"), r.PathValue("identifier"))
	if err != nil {
		h.ingestError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, out)
}
