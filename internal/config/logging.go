package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, console (CLI logger)
	JSONFormat bool            `yaml:"json_format" json:"json_format"`         // JSON lines in category files
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // Master toggle - false = no category files
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// ExportLogging writes the logging section to <workspace>/.dealer/config.json,
// which is where the category loggers read their settings from.
func (c *LoggingConfig) ExportLogging(workspace string) error {
	dir := filepath.Join(workspace, StateDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(struct {
		Logging *LoggingConfig `json:"logging"`
	}{c}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal logging config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}
