package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"octopus/internal/core"
	"octopus/internal/logger"
)

const redisKeyPrefix = "octopus:content:"

// HotCache is a fast key/value layer that may lose entries at any time
type HotCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// RedisHotCache stores content in Redis with a TTL
type RedisHotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHotCache connects to Redis and verifies the connection
func NewRedisHotCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisHotCache, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}
	if password != "" {
		opt.Password = password
	}
	if db != 0 {
		opt.DB = db
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisHotCache{client: client, ttl: ttl}, nil
}

// Get returns the cached value; the bool is false on a miss
func (r *RedisHotCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set stores value under key
func (r *RedisHotCache) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, redisKeyPrefix+key, value, r.ttl).Err()
}

// Close closes the Redis client
func (r *RedisHotCache) Close() error {
	return r.client.Close()
}

// LayeredStore reads through a hot cache before the durable store. Hot cache
// errors are logged and never fail a call.
type LayeredStore struct {
	hot  HotCache
	cold Store
	log  *slog.Logger
}

// NewLayeredStore wraps cold with hot
func NewLayeredStore(hot HotCache, cold Store) *LayeredStore {
	return &LayeredStore{hot: hot, cold: cold, log: logger.Get()}
}

// GetContent implements Store
func (l *LayeredStore) GetContent(ctx context.Context, url string) (*core.ContentCacheEntry, error) {
	val, ok, err := l.hot.Get(ctx, url)
	if err != nil {
		l.log.Warn("Hot cache read failed", "url", url, "error", err.Error())
	}
	if ok && val != "" {
		return &core.ContentCacheEntry{URL: url, Content: val, HasContent: true}, nil
	}

	entry, err := l.cold.GetContent(ctx, url)
	if err != nil {
		return nil, err
	}
	if entry.HasContent && entry.Content != "" {
		if err := l.hot.Set(ctx, url, entry.Content); err != nil {
			l.log.Warn("Hot cache write failed", "url", url, "error", err.Error())
		}
	}
	return entry, nil
}

// UpsertContent implements Store
func (l *LayeredStore) UpsertContent(ctx context.Context, url, content string) error {
	if err := l.cold.UpsertContent(ctx, url, content); err != nil {
		return err
	}
	if err := l.hot.Set(ctx, url, content); err != nil {
		l.log.Warn("Hot cache write failed", "url", url, "error", err.Error())
	}
	return nil
}
