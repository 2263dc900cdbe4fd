package cache

import (
	"context"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// CacheRecord is a cached payload row in the primary store, used when no
// Redis instance is configured.
type CacheRecord struct {
	Key       string    `gorm:"primaryKey;size:255"`
	Payload   []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoreCache backs the analytics cache with the cache_records table.
type StoreCache struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a store-backed cache.
func NewStore(db *gorm.DB, logger *slog.Logger) *StoreCache {
	return &StoreCache{db: db, logger: logger}
}

func (c *StoreCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var record CacheRecord
	err := c.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, time.Now().UTC()).
		First(&record).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			logCacheError(c.logger, "get", key, err)
		}
		return nil, false
	}
	return record.Payload, true
}

func (c *StoreCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	now := time.Now().UTC()
	record := CacheRecord{
		Key:       key,
		Payload:   payload,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := c.db.WithContext(ctx).Exec(`
		INSERT INTO cache_records (key, payload, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, record.Key, record.Payload, record.ExpiresAt, record.CreatedAt, record.UpdatedAt).Error
	if err != nil {
		logCacheError(c.logger, "set", key, err)
	}
}

func (c *StoreCache) Delete(ctx context.Context, key string) {
	if err := c.db.WithContext(ctx).Delete(&CacheRecord{}, "key = ?", key).Error; err != nil {
		logCacheError(c.logger, "delete", key, err)
	}
}

// SweepExpired removes rows whose TTL elapsed.
func (c *StoreCache) SweepExpired(ctx context.Context) (int64, error) {
	result := c.db.WithContext(ctx).
		Where("expires_at < ?", time.Now().UTC()).
		Delete(&CacheRecord{})
	return result.RowsAffected, result.Error
}
