package guide

import (
	"fmt"
	"io"
	"strings"
)

// Export writes the current result set as plain text: one block per
// assignment with members, task and, once rendered, the guide markdown.
func (b *Board) Export(w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("=== Task Assignments ===\n\n")
	for _, s := range b.Snapshot() {
		members := s.Assignment.Members()
		if members == "" {
			members = strings.Join(s.Assignment.Group, ", ")
		}
		fmt.Fprintf(&sb, "%s — %s\n", members, s.Assignment.TaskName)
		if s.State == StateRendered && strings.TrimSpace(s.Markdown) != "" {
			fmt.Fprintf(&sb, "Guide:\n%s\n", strings.TrimSpace(s.Markdown))
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// ExportString is Export into a string.
func (b *Board) ExportString() string {
	var sb strings.Builder
	_ = b.Export(&sb)
	return sb.String()
}
