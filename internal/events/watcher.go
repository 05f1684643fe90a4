package events

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"taskdealer/internal/logging"
)

// DefaultDebounce is how long a path must stay quiet before it is reported.
const DefaultDebounce = 300 * time.Millisecond

// Watcher reports settled changes to files under a base directory that match
// any of a set of doublestar globs.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	base        string
	patterns    []string
	onChange    func(paths []string)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	stats       WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events    int
	Batches   int
	Errors    int
	LastPath  string
	LastEvent time.Time
}

// NewWatcher creates a watcher over base. onChange receives each settled
// batch of changed paths, sorted.
func NewWatcher(base string, patterns []string, debounce time.Duration, onChange func(paths []string)) (*Watcher, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, doublestar.ErrBadPattern
		}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		watcher:     fw,
		base:        abs,
		patterns:    patterns,
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start adds every directory the patterns can match in and begins watching.
// It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, dir := range w.dirs() {
		if err := w.watcher.Add(dir); err != nil {
			logging.EventsWarn("watcher: cannot watch %s: %v", dir, err)
			continue
		}
		logging.EventsDebug("watcher: watching %s", dir)
	}

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.EventsWarn("watcher: close: %v", err)
	}
	logging.Events("watcher: stopped")
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Watched reports the directories currently registered with fsnotify.
func (w *Watcher) Watched() []string {
	list := w.watcher.WatchList()
	sort.Strings(list)
	return list
}

// dirs resolves each pattern's static prefix plus the parents of current
// matches, so new files in existing directories are seen.
func (w *Watcher) dirs() []string {
	seen := map[string]bool{}
	fsys := os.DirFS(w.base)
	for _, pattern := range w.patterns {
		prefix, _ := doublestar.SplitPattern(pattern)
		seen[filepath.Join(w.base, filepath.FromSlash(prefix))] = true
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			continue
		}
		for _, m := range matches {
			seen[filepath.Join(w.base, filepath.FromSlash(path.Dir(m)))] = true
		}
	}
	out := make([]string, 0, len(seen))
	for dir := range seen {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			out = append(out, dir)
		}
	}
	sort.Strings(out)
	return out
}

func (w *Watcher) matches(name string) bool {
	rel, err := filepath.Rel(w.base, name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range w.patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounceDur / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.EventsWarn("watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
		return
	}
	if !w.matches(event.Name) {
		return
	}
	logging.EventsDebug("watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastPath = event.Name
	w.stats.LastEvent = time.Now()
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for p, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, p)
			delete(w.debounceMap, p)
		}
	}
	if len(settled) > 0 {
		w.stats.Batches++
	}
	w.mu.Unlock()

	if len(settled) == 0 || w.onChange == nil {
		return
	}
	sort.Strings(settled)
	logging.Events("watcher: %d file(s) changed", len(settled))
	w.onChange(settled)
}
