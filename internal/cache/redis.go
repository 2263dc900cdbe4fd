package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache backs the analytics cache with a Redis instance.
type RedisCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis creates a Redis-backed cache.
func NewRedis(addr, password string, logger *slog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &RedisCache{client: client, logger: logger}
}

// NewRedisWithClient wraps an existing client (used by tests with miniredis).
func NewRedisWithClient(client *redis.Client, logger *slog.Logger) *RedisCache {
	return &RedisCache{client: client, logger: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logCacheError(c.logger, "get", key, err)
		}
		return nil, false
	}
	return payload, true
}

func (c *RedisCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		logCacheError(c.logger, "set", key, err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		logCacheError(c.logger, "delete", key, err)
	}
}

// Ping verifies connectivity at startup.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
