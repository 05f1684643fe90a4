package config

// ServerConfig configures `dealer serve`.
type ServerConfig struct {
	Addr            string      `yaml:"addr"`
	UpstreamURL     string      `yaml:"upstream_url"` // default generation target
	StaticDir       string      `yaml:"static_dir"`   // optional directory served at /
	WatchGlobs      []string    `yaml:"watch_globs"`  // changes broadcast "reload"
	Store           StoreConfig `yaml:"store"`
	ShutdownTimeout string      `yaml:"shutdown_timeout"`
}

// StoreConfig selects the guide store behind the cache API.
type StoreConfig struct {
	Backend  string `yaml:"backend"` // sqlite, redis
	Driver   string `yaml:"driver"`  // sqlite (modernc, pure Go) or sqlite3 (cgo)
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// EventsConfig configures the live reload channel.
type EventsConfig struct {
	Bus             string `yaml:"bus"` // memory, redis, nats
	Subject         string `yaml:"subject"`
	RedisURL        string `yaml:"redis_url"`
	NATSURL         string `yaml:"nats_url"`
	ReloadOnConnect bool   `yaml:"reload_on_connect"`
}
