// Package endpoint loads the list of generation endpoints and tracks which
// one is selected.
package endpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"taskdealer/internal/logging"
)

// SelectedKey is the preference key the chosen endpoint line is stored under.
const SelectedKey = "selected_endpoint"

// DefaultModel is used for lines that don't name a model.
const DefaultModel = "qwen3:8b"

// ErrUnknownEndpoint is returned when selecting an endpoint that is not listed.
var ErrUnknownEndpoint = errors.New("unknown endpoint")

// Endpoint is one `URL` or `URL|MODEL` line.
type Endpoint struct {
	Raw   string `json:"raw"`
	URL   string `json:"url"`
	Model string `json:"model"`
}

// Parse splits a config line. A missing model falls back to defaultModel.
func Parse(line, defaultModel string) Endpoint {
	if defaultModel == "" {
		defaultModel = DefaultModel
	}
	line = strings.TrimSpace(line)
	url, model, _ := strings.Cut(line, "|")
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return Endpoint{Raw: line, URL: strings.TrimSpace(url), Model: model}
}

// Label is the human name shown in listings.
func (e Endpoint) Label() string {
	if strings.Contains(e.URL, "ngrok") {
		return "Ngrok Tunnel"
	}
	return "Local Ollama"
}

// Target returns the URL to route through the proxy, or "" when the proxy's
// own upstream should be used. Only external https endpoints are routed.
func (e Endpoint) Target() string {
	if strings.HasPrefix(e.URL, "https://") {
		return e.URL
	}
	return ""
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s - %s", e.Label(), e.Model)
}

// Preferences persists the selection.
type Preferences interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Options controls Load.
type Options struct {
	DefaultModel string
	FallbackURL  string // used when the file cannot be read
}

// Registry is the loaded endpoint list plus the current selection.
type Registry struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	current   Endpoint
	prefs     Preferences
}

// Load reads path and restores the persisted selection if it is still
// listed. Load never fails: an unreadable file yields an empty list with the
// fallback endpoint selected.
func Load(ctx context.Context, path string, opts Options, prefs Preferences) *Registry {
	r := &Registry{prefs: prefs}
	fallback := Endpoint{Raw: opts.FallbackURL, URL: opts.FallbackURL, Model: opts.DefaultModel}
	if fallback.Model == "" {
		fallback.Model = DefaultModel
	}

	lines, err := readLines(path)
	if err != nil {
		logging.Boot("Endpoint file %s unavailable, using fallback %s: %v", path, opts.FallbackURL, err)
		r.current = fallback
		return r
	}
	for _, line := range lines {
		r.endpoints = append(r.endpoints, Parse(line, opts.DefaultModel))
	}
	if len(r.endpoints) == 0 {
		r.current = fallback
		return r
	}
	r.current = r.endpoints[0]

	if prefs != nil {
		saved, ok, err := prefs.GetPreference(ctx, SelectedKey)
		if err != nil {
			logging.BootDebug("Failed to read saved endpoint: %v", err)
		}
		if ok {
			for _, ep := range r.endpoints {
				if ep.Raw == saved {
					r.current = ep
					break
				}
			}
		}
	}
	logging.Boot("Loaded %d endpoints, current %s (%s)", len(r.endpoints), r.current.URL, r.current.Model)
	return r
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// List returns the configured endpoints.
func (r *Registry) List() []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Endpoint(nil), r.endpoints...)
}

// Current returns the selected endpoint.
func (r *Registry) Current() Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Select chooses an endpoint by its raw line, its URL or its 1-based index in
// List, and persists the choice. A persistence failure is logged and
// returned, but the selection still takes effect.
func (r *Registry) Select(ctx context.Context, ref string) (Endpoint, error) {
	r.mu.Lock()
	ep, ok := r.find(ref)
	if !ok {
		r.mu.Unlock()
		return Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownEndpoint, ref)
	}
	r.current = ep
	r.mu.Unlock()

	if r.prefs == nil {
		return ep, nil
	}
	if err := r.prefs.SetPreference(ctx, SelectedKey, ep.Raw); err != nil {
		logging.Get(logging.CategoryBoot).Warn("Failed to persist endpoint selection: %v", err)
		return ep, fmt.Errorf("failed to persist selection: %w", err)
	}
	return ep, nil
}

func (r *Registry) find(ref string) (Endpoint, bool) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(r.endpoints) {
		return r.endpoints[n-1], true
	}
	for _, ep := range r.endpoints {
		if ep.Raw == ref {
			return ep, true
		}
	}
	for _, ep := range r.endpoints {
		if ep.URL == ref {
			return ep, true
		}
	}
	return Endpoint{}, false
}
