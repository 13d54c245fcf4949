package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"templr/pkg/api"
)

// Client handles API calls to the templr controller.
type Client struct {
	BaseURL    string
	Owner      string
	HTTPClient *http.Client
}

// NewClient creates a new client acting as owner.
func NewClient(baseURL, owner string) *Client {
	return &Client{
		BaseURL: baseURL,
		Owner:   owner,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (c *Client) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(api.OwnerHeader, c.Owner)
	return req, nil
}

func (c *Client) do(req *http.Request, want int, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: string(body)}
}

// Upload sends POST /uploads with the file and ordered template slugs.
func (c *Client) Upload(path string, slugs []string) (*api.UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	slugsJSON, err := json.Marshal(slugs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode template slugs: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField(api.FormTemplateSlugs, string(slugsJSON)); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	part, err := mw.CreateFormFile(api.FormFile, filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build form: %w", err)
	}

	req, err := c.newRequest(http.MethodPost, "/uploads", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var result api.UploadResponse
	if err := c.do(req, http.StatusAccepted, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /uploads/jobs/{id}.
func (c *Client) GetJob(jobID string) (*api.JobResponse, error) {
	req, err := c.newRequest(http.MethodGet, "/uploads/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	var result api.JobResponse
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /uploads/jobs.
func (c *Client) ListJobs(skip, limit int) (*api.JobListResponse, error) {
	req, err := c.newRequest(http.MethodGet, fmt.Sprintf("/uploads/jobs?skip=%d&limit=%d", skip, limit), nil)
	if err != nil {
		return nil, err
	}

	var result api.JobListResponse
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Download streams a job artifact into w and returns the server's file name.
func (c *Client) Download(jobID string, failed bool, w io.Writer) (string, error) {
	path := "/uploads/jobs/" + url.PathEscape(jobID) + "/download"
	if failed {
		path += "-failed"
	}
	req, err := c.newRequest(http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}

	filename := ""
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return filename, nil
}

// GetRecord sends GET /data/{identifier}.
func (c *Client) GetRecord(identifier string) (*api.RecordResponse, error) {
	req, err := c.newRequest(http.MethodGet, "/data/"+url.PathEscape(identifier), nil)
	if err != nil {
		return nil, err
	}

	var result api.RecordResponse
	if err := c.do(req, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
