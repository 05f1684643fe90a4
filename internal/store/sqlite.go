// Package store persists generated guides and small user preferences.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go driver, registered as "sqlite"

	"taskdealer/internal/guidecache"
	"taskdealer/internal/logging"
)

// DefaultDriver is the pure Go sqlite driver.
const DefaultDriver = "sqlite"

// SQLite stores guides in the task_guides table and preferences in a
// key-value table of the same database.
type SQLite struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path. driver is
// "sqlite" (modernc) or "sqlite3" (mattn, needs cgo); empty means "sqlite".
func OpenSQLite(driver, path string) (*SQLite, error) {
	timer := logging.StartTimer(logging.CategoryStore, "OpenSQLite")
	defer timer.Stop()

	if driver == "" {
		driver = DefaultDriver
	}
	logging.Store("Opening guide store at %s (driver=%s)", path, driver)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logging.StoreError("Failed to create directory for %s: %v", path, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
	}

	s := &SQLite{db: db, dbPath: path, now: time.Now}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	guidesTable := `
	CREATE TABLE IF NOT EXISTS task_guides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_name TEXT NOT NULL,
		task_description TEXT NOT NULL,
		is_advanced INTEGER NOT NULL DEFAULT 0,
		model_name TEXT NOT NULL,
		is_project INTEGER NOT NULL DEFAULT 0,
		guide_content TEXT NOT NULL,
		created_at INTEGER NOT NULL, -- unix millis
		updated_at INTEGER NOT NULL,
		UNIQUE(task_name, task_description, is_advanced, model_name, is_project)
	);
	CREATE INDEX IF NOT EXISTS idx_task_lookup
		ON task_guides(task_name, task_description, is_advanced, model_name, is_project);
	`

	preferencesTable := `
	CREATE TABLE IF NOT EXISTS preferences (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`

	for _, ddl := range []string{guidesTable, preferencesTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *SQLite) Path() string {
	return s.dbPath
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// GUIDES
// =============================================================================

// Get returns the guide for key.
func (s *SQLite) Get(ctx context.Context, key guidecache.Key) (guidecache.Entry, bool, error) {
	var (
		content          string
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT guide_content, created_at, updated_at
		FROM task_guides
		WHERE task_name = ? AND task_description = ? AND is_advanced = ? AND model_name = ? AND is_project = ?`,
		key.TaskName, key.TaskDescription, boolInt(key.IsAdvanced), key.ModelName, boolInt(key.IsProject),
	).Scan(&content, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return guidecache.Entry{}, false, nil
	}
	if err != nil {
		return guidecache.Entry{}, false, fmt.Errorf("failed to query guide: %w", err)
	}
	return guidecache.Entry{
		Key:          key,
		GuideContent: content,
		CreatedAt:    time.UnixMilli(created).UTC(),
		UpdatedAt:    time.UnixMilli(updated).UTC(),
	}, true, nil
}

// Save inserts or replaces the guide for key. created_at is kept on update.
func (s *SQLite) Save(ctx context.Context, key guidecache.Key, content string) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_guides (task_name, task_description, is_advanced, model_name, is_project, guide_content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_name, task_description, is_advanced, model_name, is_project)
		DO UPDATE SET guide_content = excluded.guide_content, updated_at = excluded.updated_at`,
		key.TaskName, key.TaskDescription, boolInt(key.IsAdvanced), key.ModelName, boolInt(key.IsProject),
		content, now, now,
	)
	if err != nil {
		logging.StoreError("Failed to save guide %q: %v", key.TaskName, err)
		return fmt.Errorf("failed to save guide: %w", err)
	}
	logging.StoreDebug("Saved guide %q (%d bytes)", key.TaskName, len(content))
	return nil
}

// Delete removes the guide for key. Deleting a missing guide is not an error.
func (s *SQLite) Delete(ctx context.Context, key guidecache.Key) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM task_guides
		WHERE task_name = ? AND task_description = ? AND is_advanced = ? AND model_name = ? AND is_project = ?`,
		key.TaskName, key.TaskDescription, boolInt(key.IsAdvanced), key.ModelName, boolInt(key.IsProject),
	)
	if err != nil {
		return fmt.Errorf("failed to delete guide: %w", err)
	}
	return nil
}

// Stats counts stored guides. Normal guides are neither advanced nor project.
func (s *SQLite) Stats(ctx context.Context) (guidecache.Stats, error) {
	var stats guidecache.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_advanced = 0 AND is_project = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_advanced = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_project = 1 THEN 1 ELSE 0 END), 0)
		FROM task_guides`,
	).Scan(&stats.TotalGuides, &stats.NormalGuides, &stats.AdvancedGuides, &stats.ProjectGuides)
	if err != nil {
		return stats, fmt.Errorf("failed to count guides: %w", err)
	}
	return stats, nil
}

// =============================================================================
// PREFERENCES
// =============================================================================

// GetPreference returns the stored value for key.
func (s *SQLite) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM preferences WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read preference %s: %w", key, err)
	}
	return value, true, nil
}

// SetPreference stores value under key.
func (s *SQLite) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to write preference %s: %w", key, err)
	}
	return nil
}
