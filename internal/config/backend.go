package config

import "time"

// BackendConfig configures where generation requests go.
//
// Requests are always sent to ProxyURL. When the selected endpoint is an
// external https URL, the proxy is told to forward there via the routing
// header.
type BackendConfig struct {
	ProxyURL       string `yaml:"proxy_url"`
	EndpointsFile  string `yaml:"endpoints_file"` // URL or URL|MODEL per line
	FallbackURL    string `yaml:"fallback_url"`   // used when the endpoints file can't be read
	DefaultModel   string `yaml:"default_model"`
	RequestTimeout string `yaml:"request_timeout"` // whole generation stream
	ConnectTimeout string `yaml:"connect_timeout"` // proxy -> upstream dial + headers
}

// DealConfig holds the defaults for dealing and guide fetching.
type DealConfig struct {
	GroupSize   int  `yaml:"group_size"`
	UniqueTasks bool `yaml:"unique_tasks"`
	Advanced    bool `yaml:"advanced"`
	Concurrency int  `yaml:"concurrency"`
}

// RosterConfig points at the roster and task sources.
type RosterConfig struct {
	NamesFile    string   `yaml:"names_file"`
	TaskSources  []string `yaml:"task_sources"` // files or doublestar globs
	CatalogGlob  string   `yaml:"catalog_glob"` // category files for manual assignment
	ProjectsFile string   `yaml:"projects_file"`
	StateDB      string   `yaml:"state_db"` // local preferences (names, selected endpoint)
}

// GetRequestTimeout returns the generation timeout as a duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Backend.RequestTimeout, 10*time.Minute)
}

// GetConnectTimeout returns the upstream connect timeout as a duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return parseDuration(c.Backend.ConnectTimeout, 30*time.Second)
}

// GetCacheTimeout returns the cache client timeout as a duration.
func (c *Config) GetCacheTimeout() time.Duration {
	return parseDuration(c.Cache.Timeout, 5*time.Second)
}

// GetShutdownTimeout returns the server shutdown grace period.
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.Server.GetShutdownTimeout()
}

// GetShutdownTimeout returns the shutdown grace period, 5s when unset.
func (s ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(s.ShutdownTimeout, 5*time.Second)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
