// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import "time"

// Headers understood by the controller.
const (
	// OwnerHeader carries the caller's owner id. It is trusted as-is.
	OwnerHeader = "X-Owner-ID"
	// RequestIDHeader carries a correlation id, generated when absent.
	RequestIDHeader = "X-Request-ID"
)

// Upload form fields.
const (
	FormFile          = "file"
	FormTemplateSlugs = "template_slugs"
)

// UploadResponse is returned by POST /uploads.
type UploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobResponse represents an upload job in API responses.
type JobResponse struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	Status        string     `json:"status"`
	TotalRows     *int       `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	TemplateSlugs []string   `json:"template_slugs"`
	HasResults    bool       `json:"has_results"`
	HasFailures   bool       `json:"has_failures"`
	ErrorMessage  *string    `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// JobListResponse is the response body for GET /uploads/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Skip  int           `json:"skip"`
	Limit int           `json:"limit"`
}

// RecordResponse is the public view of a materialized record.
type RecordResponse struct {
	Identifier    string         `json:"identifier"`
	Payload       map[string]any `json:"payload"`
	TemplateSlugs []string       `json:"template_slugs"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
