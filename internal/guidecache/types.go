// Package guidecache defines the guide cache wire contract and an HTTP
// client for it.
package guidecache

import (
	"errors"
	"strings"
	"time"
)

// ErrDisabled is returned by a client when caching is turned off.
var ErrDisabled = errors.New("guide cache disabled")

// Key identifies one cached guide. Project guides use the project name and
// description as TaskName and TaskDescription.
type Key struct {
	TaskName        string `json:"task_name"`
	TaskDescription string `json:"task_description"`
	IsAdvanced      bool   `json:"is_advanced"`
	ModelName       string `json:"model_name"`
	IsProject       bool   `json:"is_project,omitempty"`
}

// Entry is a cached guide.
type Entry struct {
	Key
	GuideContent string    `json:"guide_content"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LookupResponse is the body of a /api/cache/get reply. CreatedAt is
// informational; see ParseTimestamp.
type LookupResponse struct {
	Found        bool   `json:"found"`
	GuideContent string `json:"guide_content,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// timestampLayouts are tried in order. Besides RFC 3339, stores may hand
// back SQLite CURRENT_TIMESTAMP text or a zoneless ISO 8601 value.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// FormatTimestamp renders t for the wire.
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp reads a created_at value. Zoneless values are UTC. ok is
// false when s is empty or matches no known layout.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SaveRequest is the body of /api/cache/save.
type SaveRequest struct {
	Key
	GuideContent string `json:"guide_content"`
}

// StatusResponse acknowledges save and delete.
type StatusResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Stats summarises the cache.
type Stats struct {
	TotalGuides    int `json:"total_guides"`
	NormalGuides   int `json:"normal_guides"`
	AdvancedGuides int `json:"advanced_guides"`
	ProjectGuides  int `json:"project_guides"`
}
