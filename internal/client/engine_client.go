package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"time"

	"github.com/tracklab/api/internal/config"
	"github.com/tracklab/api/internal/model"
)

// GenerationEngine defines the narrow contract of the remote generation
// engine: submit a request, poll its status, fetch the result manifest and
// the produced audio files.
type GenerationEngine interface {
	Submit(ctx context.Context, req *model.GenerationRequest) (*SubmitAck, error)
	Status(ctx context.Context, externalID string) (*StatusSnapshot, error)
	Result(ctx context.Context, externalID string) (*ResultPayload, error)
	FetchArtifact(ctx context.Context, filePath string) (io.ReadCloser, error)
	IsConfigured() bool
}

// EngineClient implements GenerationEngine against the engine's HTTP API.
type EngineClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// SubmitAck is the engine's acceptance of a generation request. ExternalID
// identifies the task for all subsequent status and result calls.
type SubmitAck struct {
	ExternalID string `json:"job_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// StatusSnapshot is one observation of a running task. Progress is a
// fraction in [0,1]. Optional fields are pointers so an absent field can
// be told apart from a zero value and left untouched when merged into the
// job.
type StatusSnapshot struct {
	ExternalID string   `json:"job_id"`
	Status     string   `json:"status"`
	Progress   *float64 `json:"progress,omitempty"`
	Message    *string  `json:"message,omitempty"`
	Error      *string  `json:"error,omitempty"`
	Duration   *float64 `json:"duration,omitempty"`
}

// Artifact describes one produced file on the engine's filesystem.
type Artifact struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ResultPayload is the terminal manifest of a completed task. MP3 is the
// delivered artifact; WAV is optional.
type ResultPayload struct {
	ExternalID string                 `json:"job_id"`
	Duration   float64                `json:"duration"`
	MP3        *Artifact              `json:"mp3"`
	WAV        *Artifact              `json:"wav,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewEngineClient creates a new generation engine client.
func NewEngineClient(cfg *config.EngineConfig) *EngineClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EngineClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// Submit sends a generation request to the engine.
func (c *EngineClient) Submit(ctx context.Context, req *model.GenerationRequest) (*SubmitAck, error) {
	var result SubmitAck
	if err := c.post(ctx, "/generate", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status retrieves the current status of a generation task.
func (c *EngineClient) Status(ctx context.Context, externalID string) (*StatusSnapshot, error) {
	endpoint := fmt.Sprintf("/status/%s", externalID)
	var result StatusSnapshot
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Result retrieves the result manifest of a completed task.
func (c *EngineClient) Result(ctx context.Context, externalID string) (*ResultPayload, error) {
	endpoint := fmt.Sprintf("/result/%s", externalID)
	var result ResultPayload
	if err := c.get(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// FetchArtifact streams a produced file from the engine's file endpoint.
// The caller must close the returned reader.
func (c *EngineClient) FetchArtifact(ctx context.Context, filePath string) (io.ReadCloser, error) {
	endpoint := fmt.Sprintf("%s/files/%s", c.baseURL, path.Base(filePath))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("engine file error (status %d): %s", resp.StatusCode, endpoint)
	}
	return resp.Body, nil
}

// IsConfigured returns true if the client has a base URL to talk to.
func (c *EngineClient) IsConfigured() bool {
	return c.baseURL != ""
}

// post sends a POST request with JSON body
func (c *EngineClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *EngineClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

// doRequest executes an HTTP request and parses the response
func (c *EngineClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Printf("[Engine API] → %s %s", req.Method, req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Engine API] ✗ %s %s — request failed: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Engine API] ✗ %s %s — failed to read response: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Engine API] ← %d %s %s", resp.StatusCode, req.Method, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Engine API] ✗ unmarshal error for %s %s: %v", req.Method, req.URL.String(), err)
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
