package handlers

import (
	"context"
	"errors"
	"io"
	"strings"

	"templr/internal/ingest"
	"templr/internal/store"

	"github.com/google/uuid"
)

// Mock ingestor
type mockIngestor struct {
	// Submit hooks
	submitResp *store.Job
	submitErr  error

	// Job hooks
	listJobsResp []store.Job
	listJobsErr  error
	getJobResp   *store.Job
	getJobErr    error

	// Artifact hooks
	artifactBody string
	artifactErr  error

	// Record hooks
	getRecordResp *store.Record
	getRecordErr  error
	renderResp    string
	renderErr     error

	// Spies (to verify arguments passed by handlers)
	capturedSubmit   ingest.SubmitRequest
	capturedContent  string
	capturedOwner    uuid.UUID
	capturedSkip     int
	capturedLimit    int
	capturedKind     ingest.ArtifactKind
	capturedSlug     string
	capturedIdentity string
}

func (m *mockIngestor) Submit(ctx context.Context, req ingest.SubmitRequest) (*store.Job, error) {
	m.capturedSubmit = req
	if req.Content != nil {
		b, _ := io.ReadAll(req.Content)
		m.capturedContent = string(b)
	}
	return m.submitResp, m.submitErr
}

func (m *mockIngestor) ListJobs(ctx context.Context, owner uuid.UUID, skip, limit int) ([]store.Job, error) {
	m.capturedOwner = owner
	m.capturedSkip = skip
	m.capturedLimit = limit
	return m.listJobsResp, m.listJobsErr
}

func (m *mockIngestor) GetJob(ctx context.Context, id, owner uuid.UUID) (*store.Job, error) {
	m.capturedOwner = owner
	return m.getJobResp, m.getJobErr
}

func (m *mockIngestor) OpenArtifact(ctx context.Context, id, owner uuid.UUID, kind ingest.ArtifactKind) (*ingest.Artifact, error) {
	m.capturedOwner = owner
	m.capturedKind = kind
	if m.artifactErr != nil {
		return nil, m.artifactErr
	}
	return &ingest.Artifact{
		Filename: "processed_people.csv",
		Body:     io.NopCloser(strings.NewReader(m.artifactBody)),
	}, nil
}

func (m *mockIngestor) GetRecord(ctx context.Context, identifier string) (*store.Record, error) {
	m.capturedIdentity = identifier
	return m.getRecordResp, m.getRecordErr
}

func (m *mockIngestor) RenderRecord(ctx context.Context, slug, identifier string) (string, error) {
	m.capturedSlug = slug
	m.capturedIdentity = identifier
	return m.renderResp, m.renderErr
}

// Mock database
type mockPinger struct {
	pingErr error
}

func (m *mockPinger) Ping(ctx context.Context) error {
	return m.pingErr
}

var errBoom = errors.New("boom")

func newTestHandlers(m *mockIngestor) *Handlers {
	return New(m, &mockPinger{}, Options{Logger: discardLogger()})
}
