// Package roster holds the people and tasks that get dealt into assignments.
package roster

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"taskdealer/internal/logging"
)

// Task is a unit of work a group can be assigned.
type Task struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
}

// ParseTasks reads `name : description` lines. The first colon splits name
// from description; blank lines, `#` comments and entries with an empty name
// are skipped. A line without a colon is a task with no description.
func ParseTasks(r io.Reader, category string) ([]Task, error) {
	var tasks []Task
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, desc, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tasks = append(tasks, Task{
			Name:        name,
			Description: strings.TrimSpace(desc),
			Category:    category,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	return tasks, nil
}

// ParseNames reads one name per line, skipping blanks and `#` comments.
func ParseNames(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		names = append(names, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	return names, nil
}

// CategoryFor derives a category label from a task file path:
// "tasks/linux.txt" -> "LINUX".
func CategoryFor(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadTaskFile parses a single task file, tagging tasks with its category.
func LoadTaskFile(path string) ([]Task, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task file %s: %w", path, err)
	}
	defer f.Close()
	return ParseTasks(f, CategoryFor(path))
}

// LoadTasks expands each source (a plain path or a doublestar pattern,
// relative to base) and concatenates the tasks in source order. Matches of a
// single pattern are read in lexical order.
func LoadTasks(base string, sources []string) ([]Task, error) {
	timer := logging.StartTimer(logging.CategoryRoster, "LoadTasks")
	defer timer.Stop()

	files, err := expandSources(base, sources)
	if err != nil {
		return nil, err
	}

	var all []Task
	for _, path := range files {
		tasks, err := LoadTaskFile(path)
		if err != nil {
			return nil, err
		}
		logging.RosterDebug("Loaded %d tasks from %s", len(tasks), path)
		all = append(all, tasks...)
	}
	logging.Roster("Loaded %d tasks from %d files", len(all), len(files))
	return all, nil
}

func expandSources(base string, sources []string) ([]string, error) {
	fsys := os.DirFS(base)
	seen := make(map[string]bool)
	var files []string
	for _, src := range sources {
		src = filepath.ToSlash(strings.TrimSpace(src))
		if src == "" {
			continue
		}
		if filepath.IsAbs(src) {
			if !seen[src] {
				seen[src] = true
				files = append(files, src)
			}
			continue
		}
		matches, err := doublestar.Glob(fsys, src)
		if err != nil {
			return nil, fmt.Errorf("invalid task source %q: %w", src, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("task source %q matched no files", src)
		}
		sort.Strings(matches)
		for _, m := range matches {
			full := filepath.Join(base, filepath.FromSlash(m))
			if seen[full] {
				continue
			}
			seen[full] = true
			files = append(files, full)
		}
	}
	return files, nil
}

// Catalog is the set of task category files offered for manual assignment.
type Catalog struct {
	Categories []string          // sorted category labels
	Tasks      map[string][]Task // category -> tasks in file order
}

// LoadCatalog reads every file matching pattern (relative to base) as a
// category. Files that fail to parse are logged and skipped.
func LoadCatalog(base, pattern string) (*Catalog, error) {
	files, err := expandSources(base, []string{pattern})
	if err != nil {
		return nil, err
	}
	cat := &Catalog{Tasks: make(map[string][]Task)}
	for _, path := range files {
		tasks, err := LoadTaskFile(path)
		if err != nil {
			logging.RosterWarn("Skipping catalog file %s: %v", path, err)
			continue
		}
		label := CategoryFor(path)
		if _, ok := cat.Tasks[label]; !ok {
			cat.Categories = append(cat.Categories, label)
		}
		cat.Tasks[label] = append(cat.Tasks[label], tasks...)
	}
	sort.Strings(cat.Categories)
	return cat, nil
}

// All returns every task in category order.
func (c *Catalog) All() []Task {
	var out []Task
	for _, label := range c.Categories {
		out = append(out, c.Tasks[label]...)
	}
	return out
}
