// Package ollama is a client for Ollama-compatible /api/generate backends,
// reached directly or through the taskdealer proxy.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdealer/internal/logging"
)

// TargetHeader tells the proxy which upstream to forward a generate call to.
const TargetHeader = "X-Ollama-Target"

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4096

// =============================================================================
// OLLAMA GENERATION CLIENT
// =============================================================================

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama returned status %d: %s", e.StatusCode, e.Body)
}

// GenerateRequest is the body of POST /api/generate.
type GenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Client sends generation requests to a single base URL.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL. timeout bounds the whole exchange,
// streamed body included; zero means no limit.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Generate starts a streaming generation and returns the NDJSON body. The
// caller must close it. A non-empty target is sent in TargetHeader.
func (c *Client) Generate(ctx context.Context, req GenerateRequest, target string) (io.ReadCloser, error) {
	reqLog := logging.WithRequestID(logging.CategoryAPI, uuid.NewString()[:8]).
		WithField("model", req.Model)
	if target != "" {
		reqLog = reqLog.WithField("target", target)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	if target != "" {
		httpReq.Header.Set(TargetHeader, target)
	}

	reqLog.Debug("POST %s/api/generate (%d byte prompt)", c.baseURL, len(req.Prompt))
	resp, err := c.client.Do(httpReq)
	if err != nil {
		reqLog.Error("Request failed: %v", err)
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reqLog.Warn("Backend returned status %d", resp.StatusCode)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(bodyBytes))}
	}
	reqLog.Debug("Streaming response (%s)", resp.Header.Get("Content-Type"))
	return resp.Body, nil
}
