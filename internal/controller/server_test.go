package controller

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"templr/internal/blob"
	"templr/internal/controller/middleware"
	"templr/internal/ingest"
	"templr/internal/render"
	"templr/internal/schema"
	"templr/internal/store/memory"
	"templr/pkg/api"

	"github.com/google/uuid"
)

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

type testServer struct {
	*httptest.Server
	pool  *ingest.Pool
	owner uuid.UUID
}

func newTestServer(t *testing.T, limiter *middleware.RateLimiter) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memory.New()
	blobs, err := blob.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}

	engine := ingest.New(ingest.Config{Domain: "https://templr.test"}, ingest.Deps{
		Store:    mem,
		Blobs:    blobs,
		Renderer: render.NewPongo(),
		Logger:   logger,
	})
	pool := ingest.NewPool(2, engine.Process, logger)
	engine.UseDispatcher(pool)

	owner := uuid.New()
	err = mem.PutSchema(context.Background(), &schema.Schema{
		Slug:    "greeting",
		OwnerID: owner,
		Content: "<p>Hello {{ name }}, you owe {{ amount }}</p>",
		Fields: []schema.FieldSpec{
			{Name: "name", Type: schema.TypeString, Required: true},
			{Name: "amount", Type: schema.TypeNumber, Required: true},
		},
	})
	if err != nil {
		t.Fatalf("failed to seed schema: %v", err)
	}

	srv := httptest.NewServer(Routes(Config{
		Ingestor:    engine,
		DB:          okPinger{},
		RateLimiter: limiter,
		Logger:      logger,
	}))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, pool: pool, owner: owner}
}

func (s *testServer) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	req.Header.Set(api.OwnerHeader, s.owner.String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) upload(t *testing.T, filename, content string) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(api.FormTemplateSlugs, `["greeting"]`)
	part, _ := mw.CreateFormFile(api.FormFile, filename)
	part.Write([]byte(content))
	mw.Close()

	req, _ := http.NewRequest(http.MethodPost, s.URL+"/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.do(t, req)
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, s.URL+path, nil)
	return s.do(t, req)
}

func TestServer_UploadToRender(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.upload(t, "people.csv", "name,amount\nAda,10\nGrace,oops\n")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("upload: got status %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var uploaded api.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("failed to decode upload response: %v", err)
	}
	if resp.Header.Get(api.RequestIDHeader) == "" {
		t.Error("expected a request id on the response")
	}

	srv.pool.Wait()

	resp = srv.get(t, "/uploads/jobs/"+uploaded.JobID)
	var job api.JobResponse
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("failed to decode job: %v", err)
	}
	if job.Status != "completed" {
		t.Fatalf("got job status %q (%v), want completed", job.Status, job.ErrorMessage)
	}
	if job.ProcessedRows != 1 || !job.HasResults || !job.HasFailures {
		t.Errorf("unexpected job summary: %+v", job)
	}

	resp = srv.get(t, "/uploads/jobs/"+uploaded.JobID+"/download")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: got status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Disposition"); !strings.Contains(got, "processed_people.csv") {
		t.Errorf("unexpected Content-Disposition %q", got)
	}
	rows, err := csv.NewReader(resp.Body).ReadAll()
	if err != nil {
		t.Fatalf("failed to read results: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d result lines, want header plus one row", len(rows))
	}
	idCol := -1
	for i, name := range rows[0] {
		if name == ingest.ColIdentifier {
			idCol = i
		}
	}
	if idCol < 0 {
		t.Fatalf("results header %v has no identifier column", rows[0])
	}
	identifier := rows[1][idCol]

	resp = srv.get(t, "/uploads/jobs/"+uploaded.JobID+"/download-failed")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("download-failed: got status %d", resp.StatusCode)
	}

	resp = srv.get(t, "/data/"+identifier)
	var rec api.RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("failed to decode record: %v", err)
	}
	if rec.Payload["name"] != "Ada" {
		t.Errorf("unexpected record payload %v", rec.Payload)
	}

	resp = srv.get(t, "/greeting/"+identifier)
	html, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(html), "Hello Ada, you owe 10") {
		t.Errorf("render: got %d %q", resp.StatusCode, html)
	}

	resp = srv.get(t, "/invoice/"+identifier)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("render with foreign slug: got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	resp = srv.get(t, "/data/missing1")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing record: got status %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestServer_OwnerScoping(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := srv.upload(t, "people.csv", "name,amount\nAda,10\n")
	var uploaded api.UploadResponse
	json.NewDecoder(resp.Body).Decode(&uploaded)
	srv.pool.Wait()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/uploads/jobs/"+uploaded.JobID, nil)
	req.Header.Set(api.OwnerHeader, uuid.NewString())
	other, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer other.Body.Close()
	if other.StatusCode != http.StatusNotFound {
		t.Errorf("foreign owner: got status %d, want %d", other.StatusCode, http.StatusNotFound)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/uploads/jobs", nil)
	anon, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer anon.Body.Close()
	if anon.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing owner: got status %d, want %d", anon.StatusCode, http.StatusUnauthorized)
	}
}

func TestServer_UploadRateLimited(t *testing.T) {
	srv := newTestServer(t, middleware.NewRateLimiter(0.001, 1))

	if resp := srv.upload(t, "a.csv", "name,amount\nAda,1\n"); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first upload: got status %d", resp.StatusCode)
	}
	if resp := srv.upload(t, "b.csv", "name,amount\nAda,1\n"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second upload: got status %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	srv.pool.Wait()

	// Reads are not throttled.
	if resp := srv.get(t, "/uploads/jobs"); resp.StatusCode != http.StatusOK {
		t.Errorf("list jobs: got status %d", resp.StatusCode)
	}
}

func TestServer_HealthEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, path := range []string{"/healthz", "/readyz"} {
		if resp := srv.get(t, path); resp.StatusCode != http.StatusOK {
			t.Errorf("%s: got status %d", path, resp.StatusCode)
		}
	}
}
