package guidecache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskdealer/internal/logging"
)

// Client talks to the cache endpoints of a taskdealer server.
type Client struct {
	baseURL string
	client  *http.Client
	enabled bool
}

// NewClient creates a cache client for baseURL. A disabled client answers
// every call with ErrDisabled without touching the network.
func NewClient(baseURL string, timeout time.Duration, enabled bool) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		enabled: enabled,
	}
}

// Lookup fetches a cached guide. found is false on a miss.
func (c *Client) Lookup(ctx context.Context, key Key) (Entry, bool, error) {
	if !c.enabled {
		return Entry{}, false, ErrDisabled
	}
	var resp LookupResponse
	if err := c.post(ctx, "/api/cache/get", key, &resp); err != nil {
		return Entry{}, false, err
	}
	if !resp.Found {
		logging.CacheDebug("Cache miss: %s (advanced=%v project=%v model=%s)", key.TaskName, key.IsAdvanced, key.IsProject, key.ModelName)
		return Entry{}, false, nil
	}

	entry := Entry{Key: key, GuideContent: resp.GuideContent}
	if created, ok := ParseTimestamp(resp.CreatedAt); ok {
		entry.CreatedAt = created
	} else if resp.CreatedAt != "" {
		logging.CacheDebug("Ignoring unreadable created_at %q for %s", resp.CreatedAt, key.TaskName)
	}
	logging.CacheDebug("Cache hit: %s (created %s)", key.TaskName, entry.CreatedAt.Format(time.RFC3339))
	return entry, true, nil
}

// Save stores a guide, replacing any entry with the same key.
func (c *Client) Save(ctx context.Context, key Key, content string) error {
	if !c.enabled {
		return ErrDisabled
	}
	var resp StatusResponse
	if err := c.post(ctx, "/api/cache/save", SaveRequest{Key: key, GuideContent: content}, &resp); err != nil {
		return err
	}
	logging.Cache("Saved guide for %s (%d bytes)", key.TaskName, len(content))
	return nil
}

// Delete evicts a guide.
func (c *Client) Delete(ctx context.Context, key Key) error {
	if !c.enabled {
		return ErrDisabled
	}
	var resp StatusResponse
	if err := c.post(ctx, "/api/cache/delete", key, &resp); err != nil {
		return err
	}
	logging.Cache("Deleted guide for %s", key.TaskName)
	return nil
}

// Stats fetches cache counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if !c.enabled {
		return stats, ErrDisabled
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/cache/stats", nil)
	if err != nil {
		return stats, fmt.Errorf("failed to create request: %w", err)
	}
	if err := c.do(req, &stats); err != nil {
		return stats, err
	}
	return stats, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		logging.CacheWarn("%s %s failed: %v", req.Method, req.URL.Path, err)
		return fmt.Errorf("cache request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		logging.CacheWarn("%s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
		return fmt.Errorf("cache returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
