package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"taskdealer/internal/guidecache"
	"taskdealer/internal/logging"
)

const (
	redisGuidePrefix = "taskdealer:guide:"
	redisIndexKey    = "taskdealer:guides"
)

// redisClient is the subset of *redis.Client the guide store uses.
type redisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HSetNX(ctx context.Context, key, field string, value interface{}) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// Redis stores guides as hashes, one per key, plus an index set for stats.
type Redis struct {
	client redisClient
	now    func() time.Time
}

// OpenRedis connects to a redis:// URL.
func OpenRedis(address string) (*Redis, error) {
	if address == "" {
		address = "redis://127.0.0.1:6379"
	}
	options, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	logging.Store("Using redis guide store at %s", options.Addr)
	return &Redis{client: redis.NewClient(options), now: time.Now}, nil
}

func redisKey(key guidecache.Key) string {
	raw, _ := json.Marshal(key)
	sum := sha256.Sum256(raw)
	return redisGuidePrefix + hex.EncodeToString(sum[:16])
}

// Get returns the guide for key.
func (r *Redis) Get(ctx context.Context, key guidecache.Key) (guidecache.Entry, bool, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return guidecache.Entry{}, false, fmt.Errorf("failed to read guide: %w", err)
	}
	content, ok := fields["guide_content"]
	if !ok {
		return guidecache.Entry{}, false, nil
	}
	return guidecache.Entry{
		Key:          key,
		GuideContent: content,
		CreatedAt:    parseMillis(fields["created_at"]),
		UpdatedAt:    parseMillis(fields["updated_at"]),
	}, true, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// Save stores the guide. created_at is only set the first time.
func (r *Redis) Save(ctx context.Context, key guidecache.Key, content string) error {
	k := redisKey(key)
	now := strconv.FormatInt(r.now().UnixMilli(), 10)
	if err := r.client.HSetNX(ctx, k, "created_at", now).Err(); err != nil {
		return fmt.Errorf("failed to save guide: %w", err)
	}
	err := r.client.HSet(ctx, k,
		"task_name", key.TaskName,
		"task_description", key.TaskDescription,
		"is_advanced", boolInt(key.IsAdvanced),
		"model_name", key.ModelName,
		"is_project", boolInt(key.IsProject),
		"guide_content", content,
		"updated_at", now,
	).Err()
	if err != nil {
		return fmt.Errorf("failed to save guide: %w", err)
	}
	if err := r.client.SAdd(ctx, redisIndexKey, k).Err(); err != nil {
		return fmt.Errorf("failed to index guide: %w", err)
	}
	return nil
}

// Delete removes the guide for key.
func (r *Redis) Delete(ctx context.Context, key guidecache.Key) error {
	k := redisKey(key)
	if err := r.client.Del(ctx, k).Err(); err != nil {
		return fmt.Errorf("failed to delete guide: %w", err)
	}
	return r.client.SRem(ctx, redisIndexKey, k).Err()
}

// Stats walks the index set. Entries whose hash has vanished are skipped.
func (r *Redis) Stats(ctx context.Context) (guidecache.Stats, error) {
	var stats guidecache.Stats
	keys, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to list guides: %w", err)
	}
	for _, k := range keys {
		fields, err := r.client.HGetAll(ctx, k).Result()
		if err != nil {
			return stats, fmt.Errorf("failed to read guide: %w", err)
		}
		if _, ok := fields["guide_content"]; !ok {
			continue
		}
		stats.TotalGuides++
		advanced := fields["is_advanced"] == "1"
		project := fields["is_project"] == "1"
		if advanced {
			stats.AdvancedGuides++
		}
		if project {
			stats.ProjectGuides++
		}
		if !advanced && !project {
			stats.NormalGuides++
		}
	}
	return stats, nil
}

// Close closes the connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
