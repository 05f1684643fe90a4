// Package render turns guide markdown into display markup.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer converts markdown to markup.
type Renderer interface {
	Render(markdown string) (string, error)
}

// Format names a renderer.
type Format string

const (
	FormatTerminal Format = "terminal"
	FormatHTML     Format = "html"
	FormatPlain    Format = "plain"
)

// New builds the renderer for format. style and wordWrap only affect the
// terminal renderer.
func New(format Format, style string, wordWrap int) (Renderer, error) {
	switch format {
	case FormatTerminal, "":
		return NewTerminal(style, wordWrap)
	case FormatHTML:
		return NewHTML(), nil
	case FormatPlain:
		return Plain{}, nil
	}
	return nil, fmt.Errorf("unknown render format: %s", format)
}

// =============================================================================
// HTML
// =============================================================================

// HTML renders GitHub-flavoured markdown to sanitized HTML.
type HTML struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewHTML creates an HTML renderer. Tables, strikethrough, task lists and
// autolinks are enabled; single newlines become <br>.
func NewHTML() *HTML {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")
	return &HTML{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		policy: policy,
	}
}

// Render converts markdown. Raw HTML in the input is dropped by goldmark and
// the result is sanitized.
func (h *HTML) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return string(h.policy.SanitizeBytes(buf.Bytes())), nil
}

// =============================================================================
// TERMINAL
// =============================================================================

// Terminal renders markdown for a terminal with glamour.
type Terminal struct {
	mu sync.Mutex // glamour renderers are not safe for concurrent use
	tr *glamour.TermRenderer
}

// NewTerminal creates a terminal renderer. style "auto" (or empty) picks a
// style from the terminal background.
func NewTerminal(style string, wordWrap int) (*Terminal, error) {
	if wordWrap <= 0 {
		wordWrap = 80
	}
	styleOpt := glamour.WithAutoStyle()
	if style != "" && style != "auto" {
		styleOpt = glamour.WithStylePath(style)
	}
	tr, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(wordWrap))
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	return &Terminal{tr: tr}, nil
}

// Render converts markdown to ANSI-styled text.
func (t *Terminal) Render(markdown string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, err := t.tr.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}

// =============================================================================
// PLAIN
// =============================================================================

// Plain returns the markdown unchanged apart from a trailing newline.
type Plain struct{}

func (Plain) Render(markdown string) (string, error) {
	return strings.TrimRight(markdown, "\n") + "\n", nil
}
