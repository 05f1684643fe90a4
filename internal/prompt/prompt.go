// Package prompt builds generation prompts for task guides, project guides
// and free-form questions.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"taskdealer/internal/logging"
)

// Kind selects the prompt family.
type Kind int

const (
	KindTask Kind = iota
	KindProject
	KindAsk
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindProject:
		return "project"
	case KindAsk:
		return "ask"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// NoDescription replaces a blank description.
const NoDescription = "(no detailed description provided)"

// Request describes one prompt.
type Request struct {
	Kind        Kind
	Name        string   // task or project name
	Description string   // may be blank
	Members     []string // display names, joined with ", "
	Advanced    bool     // task prompts only
	Question    string   // KindAsk only, passed through unchanged
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type templateData struct {
	Name        string
	Members     string
	Description string
}

// Build renders the prompt for req. It is pure: the same request always
// yields the same text.
func Build(req Request) (string, error) {
	if req.Kind == KindAsk {
		if strings.TrimSpace(req.Question) == "" {
			return "", fmt.Errorf("empty question")
		}
		return req.Question, nil
	}

	name := "standard.tmpl"
	switch {
	case req.Kind == KindProject:
		name = "project.tmpl"
	case req.Kind != KindTask:
		return "", fmt.Errorf("unknown prompt kind: %v", req.Kind)
	case req.Advanced:
		name = "advanced.tmpl"
	}

	data := templateData{
		Name:        req.Name,
		Members:     strings.Join(req.Members, ", "),
		Description: DescriptionOrPlaceholder(req.Description),
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	logging.Get(logging.CategoryPrompt).Debug("Built %s prompt for %q (%d bytes)", req.Kind, req.Name, buf.Len())
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// DescriptionOrPlaceholder trims desc and substitutes NoDescription when blank.
func DescriptionOrPlaceholder(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return NoDescription
	}
	return desc
}
