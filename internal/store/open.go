package store

import (
	"context"
	"fmt"
	"strings"

	"taskdealer/internal/config"
	"taskdealer/internal/guidecache"
)

// Guides is what every guide backend provides.
type Guides interface {
	Get(ctx context.Context, key guidecache.Key) (guidecache.Entry, bool, error)
	Save(ctx context.Context, key guidecache.Key, content string) error
	Delete(ctx context.Context, key guidecache.Key) error
	Stats(ctx context.Context) (guidecache.Stats, error)
	Close() error
}

var (
	_ Guides = (*SQLite)(nil)
	_ Guides = (*Redis)(nil)
)

// Open builds the guide backend selected by cfg.Backend.
func Open(cfg config.StoreConfig) (Guides, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite":
		return OpenSQLite(cfg.Driver, cfg.Path)
	case "redis":
		return OpenRedis(cfg.RedisURL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
