// Package cache memoizes rendered analytics reports. Two backends exist: a
// Redis client when an address is configured, and a table in the primary
// store otherwise. Cache failures are always miss-equivalent; no request
// ever fails because the cache did.
package cache

import (
	"context"
	"log/slog"
	"time"
)

// Cache is a key/value store with per-entry TTL.
type Cache interface {
	// Get returns the cached payload and whether it was present and fresh.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores payload under key for ttl. Best-effort.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration)
	// Delete removes key. Best-effort.
	Delete(ctx context.Context, key string)
}

// Sweeper is implemented by backends whose expired entries need explicit
// removal (the store-backed cache; Redis expires keys itself).
type Sweeper interface {
	// SweepExpired deletes entries whose TTL elapsed, returning the count.
	SweepExpired(ctx context.Context) (int64, error)
}

// noop is used when caching is disabled outright.
type noop struct{}

func (noop) Get(context.Context, string) ([]byte, bool)                  { return nil, false }
func (noop) Set(context.Context, string, []byte, time.Duration)          {}
func (noop) Delete(context.Context, string)                              {}

// NewNoop returns a cache that never hits.
func NewNoop() Cache { return noop{} }

func logCacheError(logger *slog.Logger, op, key string, err error) {
	logger.Debug("Cache operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err))
}
