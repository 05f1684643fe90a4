package roster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"taskdealer/internal/logging"
)

// NamesKey is the preference key the roster is persisted under.
const NamesKey = "names"

var (
	// ErrNameNotFound is returned when removing a name that is not on the roster.
	ErrNameNotFound = errors.New("name not found")
	// ErrTaskIndex is returned for an out-of-range task index.
	ErrTaskIndex = errors.New("task index out of range")
)

// Preferences is a small persistent key-value store.
type Preferences interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}

// Store owns the roster and the current task pool. Callers get copies, so a
// deal works on a snapshot that later edits cannot disturb.
type Store struct {
	mu    sync.RWMutex
	names []string
	tasks []Task
	prefs Preferences
}

// NewStore creates a Store. prefs may be nil, in which case nothing persists.
func NewStore(prefs Preferences) *Store {
	return &Store{prefs: prefs}
}

// Load restores the persisted roster. A missing or corrupt entry leaves the
// roster empty and is only logged.
func (s *Store) Load(ctx context.Context) error {
	if s.prefs == nil {
		return nil
	}
	raw, ok, err := s.prefs.GetPreference(ctx, NamesKey)
	if err != nil {
		logging.RosterWarn("Failed to read persisted names: %v", err)
		return fmt.Errorf("failed to read names: %w", err)
	}
	if !ok {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		logging.RosterWarn("Ignoring corrupt persisted names: %v", err)
		return nil
	}

	s.mu.Lock()
	s.names = names
	s.mu.Unlock()
	logging.RosterDebug("Restored %d names", len(names))
	return nil
}

// Names returns a copy of the roster in insertion order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...)
}

// AddNames appends trimmed, non-empty names and persists the roster.
// Duplicates are allowed.
func (s *Store) AddNames(ctx context.Context, names ...string) (int, error) {
	s.mu.Lock()
	added := 0
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		s.names = append(s.names, n)
		added++
	}
	s.mu.Unlock()

	if added == 0 {
		return 0, nil
	}
	logging.Roster("Added %d names", added)
	return added, s.persist(ctx)
}

// RemoveName removes the first occurrence of name.
func (s *Store) RemoveName(ctx context.Context, name string) error {
	s.mu.Lock()
	idx := -1
	for i, n := range s.names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNameNotFound, name)
	}
	s.names = append(s.names[:idx], s.names[idx+1:]...)
	s.mu.Unlock()

	logging.Roster("Removed name %q", name)
	return s.persist(ctx)
}

// ClearNames empties the roster.
func (s *Store) ClearNames(ctx context.Context) error {
	s.mu.Lock()
	s.names = nil
	s.mu.Unlock()
	return s.persist(ctx)
}

// MergeNamesFile loads names from path and merges them with the current
// roster: file names first, then existing names not already merged, so
// repeated saved names collapse to one.
// Returns the number of names that were not already on the roster.
func (s *Store) MergeNamesFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open names file: %w", err)
	}
	defer f.Close()

	fromFile, err := ParseNames(f)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	inFile := make(map[string]bool, len(fromFile))
	for _, n := range fromFile {
		inFile[n] = true
	}
	existing := make(map[string]bool, len(s.names))
	for _, n := range s.names {
		existing[n] = true
	}
	added := 0
	for n := range inFile {
		if !existing[n] {
			added++
		}
	}
	merged := append([]string(nil), fromFile...)
	for _, n := range s.names {
		if !inFile[n] {
			merged = append(merged, n)
			inFile[n] = true
		}
	}
	s.names = merged
	s.mu.Unlock()

	logging.Roster("Merged names file %s: %d from file, %d new", path, len(fromFile), added)
	return added, s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	if s.prefs == nil {
		return nil
	}
	data, err := json.Marshal(s.Names())
	if err != nil {
		return fmt.Errorf("failed to encode names: %w", err)
	}
	if err := s.prefs.SetPreference(ctx, NamesKey, string(data)); err != nil {
		logging.RosterWarn("Failed to persist names: %v", err)
		return fmt.Errorf("failed to persist names: %w", err)
	}
	return nil
}

// SetTasks replaces the task pool.
func (s *Store) SetTasks(tasks []Task) {
	s.mu.Lock()
	s.tasks = append([]Task(nil), tasks...)
	s.mu.Unlock()
}

// Tasks returns a copy of the task pool.
func (s *Store) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Task(nil), s.tasks...)
}

// SetDescription edits the description of the task at index.
func (s *Store) SetDescription(index int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.tasks) {
		return fmt.Errorf("%w: %d", ErrTaskIndex, index)
	}
	s.tasks[index].Description = strings.TrimSpace(description)
	return nil
}

// Snapshot returns copies of the roster and task pool taken under one lock.
func (s *Store) Snapshot() ([]string, []Task) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.names...), append([]Task(nil), s.tasks...)
}
