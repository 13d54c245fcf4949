package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"templr/internal/ingest"
	"templr/internal/store"
	"templr/pkg/api"
)

func TestGetRecord(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name           string
		mockSetup      func(*mockIngestor)
		expectedStatus int
		expectedInBody string
	}{
		{
			name: "Success",
			mockSetup: func(m *mockIngestor) {
				m.getRecordResp = &store.Record{
					Identifier:  "abc12345",
					Payload:     map[string]any{"name": "Ada"},
					SchemaSlugs: []string{"invoice"},
					CreatedAt:   now,
					ExpiresAt:   now.Add(time.Hour),
				}
			},
			expectedStatus: http.StatusOK,
			expectedInBody: `"identifier":"abc12345"`,
		},
		{
			name:           "Not Found",
			mockSetup:      func(m *mockIngestor) { m.getRecordErr = ingest.ErrRecordNotFound },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Data not found",
		},
		{
			name:           "Expired",
			mockSetup:      func(m *mockIngestor) { m.getRecordErr = ingest.ErrRecordGone },
			expectedStatus: http.StatusGone,
			expectedInBody: "Data has expired",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockIngestor{}
			tt.mockSetup(mock)
			h := newTestHandlers(mock)

			req := httptest.NewRequest(http.MethodGet, "/data/abc12345", nil)
			req.SetPathValue("identifier", "abc12345")
			rr := httptest.NewRecorder()
			h.GetRecord(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
			if mock.capturedIdentity != "abc12345" {
				t.Errorf("got identifier %q, want abc12345", mock.capturedIdentity)
			}
		})
	}
}

func TestRenderRecord(t *testing.T) {
	tests := []struct {
		name           string
		mockSetup      func(*mockIngestor)
		expectedStatus int
		expectedInBody string
		expectedType   string
	}{
		{
			name:           "Success",
			mockSetup:      func(m *mockIngestor) { m.renderResp = "<p>Invoice for Ada</p>" },
			expectedStatus: http.StatusOK,
			expectedInBody: "Invoice for Ada",
			expectedType:   "text/html; charset=utf-8",
		},
		{
			name:           "Slug Not Associated",
			mockSetup:      func(m *mockIngestor) { m.renderErr = ingest.ErrSchemaNotAssociated },
			expectedStatus: http.StatusNotFound,
			expectedInBody: "Template not associated with this data",
			expectedType:   "application/json",
		},
		{
			name:           "Expired",
			mockSetup:      func(m *mockIngestor) { m.renderErr = ingest.ErrRecordGone },
			expectedStatus: http.StatusGone,
			expectedInBody: "Data has expired",
			expectedType:   "application/json",
		},
		{
			name: "Render Failure",
			mockSetup: func(m *mockIngestor) {
				m.renderErr = &ingest.Error{Kind: ingest.KindRender, Message: "Template rendering error", Err: errBoom}
			},
			expectedStatus: http.StatusInternalServerError,
			expectedInBody: "Template rendering error",
			expectedType:   "application/json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockIngestor{}
			tt.mockSetup(mock)
			h := newTestHandlers(mock)

			req := httptest.NewRequest(http.MethodGet, "/invoice/abc12345", nil)
			req.SetPathValue("slug", "invoice")
			req.SetPathValue("identifier", "abc12345")
			rr := httptest.NewRecorder()
			h.RenderRecord(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, tt.expectedStatus)
			}
			if !strings.Contains(rr.Body.String(), tt.expectedInBody) {
				t.Errorf("handler returned unexpected body: got %v want substring %v", rr.Body.String(), tt.expectedInBody)
			}
			if got := rr.Header().Get("Content-Type"); got != tt.expectedType {
				t.Errorf("got Content-Type %q, want %q", got, tt.expectedType)
			}
			if mock.capturedSlug != "invoice" {
				t.Errorf("got slug %q, want invoice", mock.capturedSlug)
			}
		})
	}
}

func TestRenderRecord_ErrorBodyIsJSON(t *testing.T) {
	mock := &mockIngestor{renderErr: ingest.ErrRecordNotFound}
	h := newTestHandlers(mock)

	req := httptest.NewRequest(http.MethodGet, "/invoice/nope", nil)
	req.SetPathValue("slug", "invoice")
	req.SetPathValue("identifier", "nope")
	rr := httptest.NewRecorder()
	h.RenderRecord(rr, req)

	var body api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error != "Data not found" || body.Code != "404" {
		t.Errorf("unexpected error body: %+v", body)
	}
}
