package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// StateDir is the per-workspace directory holding logs, the local state db
// and the exported logging config.
const StateDir = ".dealer"

// DefaultConfigFile is looked up in the workspace when --config is not given.
const DefaultConfigFile = "dealer.yaml"

// Config holds all taskdealer configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Generation backend and endpoint selection
	Backend BackendConfig `yaml:"backend"`

	// Remote guide cache (the server's /api/cache endpoints)
	Cache CacheConfig `yaml:"cache"`

	// Dealing defaults
	Deal DealConfig `yaml:"deal"`

	// Roster and task sources
	Roster RosterConfig `yaml:"roster"`

	// Companion server (proxy, cache API, events)
	Server ServerConfig `yaml:"server"`

	// Live reload event channel
	Events EventsConfig `yaml:"events"`

	// Markdown rendering
	Render RenderConfig `yaml:"render"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig configures the remote guide cache client.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"` // empty = same host as backend.proxy_url
	Timeout string `yaml:"timeout"`
}

// RenderConfig configures markdown rendering of guides.
type RenderConfig struct {
	Format   string `yaml:"format"` // terminal, html, plain
	WordWrap int    `yaml:"word_wrap"`
	Style    string `yaml:"style"` // glamour style name: auto, dark, light, notty
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "taskdealer",
		Version: "0.4.0",

		Backend: BackendConfig{
			ProxyURL:       "http://localhost:8001",
			EndpointsFile:  "models.txt",
			FallbackURL:    "http://localhost:8001",
			DefaultModel:   "qwen3:8b",
			RequestTimeout: "10m",
			ConnectTimeout: "30s",
		},

		Cache: CacheConfig{
			Enabled: true,
			Timeout: "5s",
		},

		Deal: DealConfig{
			GroupSize:   2,
			UniqueTasks: false,
			Advanced:    false,
			Concurrency: 2,
		},

		Roster: RosterConfig{
			NamesFile:    "names.txt",
			TaskSources:  []string{"tasks/linux.txt"},
			CatalogGlob:  "tasks/*.txt",
			ProjectsFile: "projects.txt",
			StateDB:      filepath.Join(StateDir, "state.db"),
		},

		Server: ServerConfig{
			Addr:        ":8001",
			UpstreamURL: "http://localhost:11434/api/generate",
			StaticDir:   "",
			WatchGlobs:  []string{"*.txt", "tasks/*.txt"},
			Store: StoreConfig{
				Backend: "sqlite",
				Driver:  "sqlite",
				Path:    "task_cache.db",
			},
			ShutdownTimeout: "5s",
		},

		Events: EventsConfig{
			Bus:             "memory",
			Subject:         "taskdealer.events",
			ReloadOnConnect: true,
		},

		Render: RenderConfig{
			Format:   "terminal",
			WordWrap: 80,
			Style:    "auto",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("DEALER_PROXY_URL"); url != "" {
		c.Backend.ProxyURL = url
	}
	if model := os.Getenv("DEALER_MODEL"); model != "" {
		c.Backend.DefaultModel = model
	}
	if url := os.Getenv("DEALER_CACHE_URL"); url != "" {
		c.Cache.BaseURL = url
	}
	if path := os.Getenv("DEALER_DB"); path != "" {
		c.Server.Store.Path = path
	}
	if url := os.Getenv("DEALER_REDIS_URL"); url != "" {
		c.Server.Store.RedisURL = url
		c.Events.RedisURL = url
	}
	if url := os.Getenv("DEALER_NATS_URL"); url != "" {
		c.Events.NATSURL = url
	}
}

// CacheURL returns the base URL of the guide cache API.
func (c *Config) CacheURL() string {
	if c.Cache.BaseURL != "" {
		return strings.TrimRight(c.Cache.BaseURL, "/")
	}
	return strings.TrimRight(c.Backend.ProxyURL, "/")
}

// ValidStoreBackends lists the supported guide store backends.
var ValidStoreBackends = []string{"sqlite", "redis"}

// ValidBuses lists the supported event bus backends.
var ValidBuses = []string{"memory", "redis", "nats"}

// ValidRenderFormats lists the supported guide output formats.
var ValidRenderFormats = []string{"terminal", "html", "plain"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.ProxyURL) == "" {
		return fmt.Errorf("backend.proxy_url is required")
	}
	if c.Deal.GroupSize < 0 {
		return fmt.Errorf("deal.group_size must be >= 0, got %d", c.Deal.GroupSize)
	}
	if c.Deal.Concurrency < 0 {
		return fmt.Errorf("deal.concurrency must be >= 0, got %d", c.Deal.Concurrency)
	}
	if !contains(ValidStoreBackends, c.Server.Store.Backend) {
		return fmt.Errorf("invalid server.store.backend: %s (valid: %v)", c.Server.Store.Backend, ValidStoreBackends)
	}
	if !contains(ValidBuses, c.Events.Bus) {
		return fmt.Errorf("invalid events.bus: %s (valid: %v)", c.Events.Bus, ValidBuses)
	}
	if !contains(ValidRenderFormats, c.Render.Format) {
		return fmt.Errorf("invalid render.format: %s (valid: %v)", c.Render.Format, ValidRenderFormats)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
