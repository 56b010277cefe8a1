package repositories

import (
	"context"
	"time"

	"RoyRemind/cache"

	"go.uber.org/zap"
)

const (
	PatientCacheExpiry    = 10 * time.Minute
	PreferenceCacheExpiry = 24 * time.Hour
	ScheduleCacheExpiry   = 10 * time.Minute
	TemplateCacheExpiry   = time.Hour
	ScoreCacheExpiry      = 2 * time.Hour
)

// cacheAside reads through and invalidates the Redis cache. A cache failure never fails
// the database operation it wraps; a nil cache disables caching.
type cacheAside struct {
	cache  *cache.Cache
	logger *zap.Logger
}

func (c cacheAside) get(ctx context.Context, key string, dest interface{}) bool {
	if c.cache == nil {
		return false
	}
	hit, err := c.cache.GetJSON(ctx, key, dest)
	if err != nil {
		c.logger.Warn("failed to read from cache", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (c cacheAside) set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJSON(ctx, key, value, ttl); err != nil {
		c.logger.Warn("failed to write to cache", zap.String("key", key), zap.Error(err))
	}
}

func (c cacheAside) evict(ctx context.Context, keys ...string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.DeleteBatch(ctx, keys...); err != nil {
		c.logger.Warn("failed to delete cache keys", zap.Strings("keys", keys), zap.Error(err))
	}
}

func (c cacheAside) evictPattern(ctx context.Context, pattern string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.DeleteAll(ctx, pattern); err != nil {
		c.logger.Warn("failed to delete cache pattern", zap.String("pattern", pattern), zap.Error(err))
	}
}
