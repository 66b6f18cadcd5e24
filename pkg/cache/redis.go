package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a remote Redis instance, for deployments
// where memoized results should survive restarts or be shared.
type Redis struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// NewRedis connects a Redis-backed store.
func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "chatbi:cache:"
	}
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
		log:    slog.Default().With("component", "redis-cache"),
	}
}

// NewRedisFromClient wraps an existing client (used in tests).
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chatbi:cache:"
	}
	return &Redis{client: client, prefix: prefix, log: slog.Default().With("component", "redis-cache")}
}

// Get fetches a key. Transport errors degrade to a miss.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("Redis get failed, treating as miss", "key", redactKey(key), "error", err)
		}
		return nil, false
	}
	return v, true
}

// Put stores a key. Failures are logged, not surfaced: the cache is an
// optimisation, never a correctness dependency.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.log.Warn("Redis put failed", "key", redactKey(key), "error", err)
	}
}

// Delete removes a key.
func (r *Redis) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.log.Warn("Redis delete failed", "key", redactKey(key), "error", err)
	}
}

// Close releases the underlying client.
func (r *Redis) Close() error { return r.client.Close() }
