package database

import (
	"RoyRemind/config"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrNotLockOwner is returned by ReleaseLock when the key expired or another owner holds it.
var ErrNotLockOwner = errors.New("lock release failed: not the lock owner")

// NewRedisClient creates a Redis client with the provided configuration
func NewRedisClient(cfg config.RedisConfig, log *zap.Logger) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("REDIS_URL environment variable is not set")
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.DialTimeout = cfg.DialTimeout
	opt.ReadTimeout = cfg.ReadTimeout
	opt.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis server: %w", err)
	}

	log.Info("redis client initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("min_idle_conns", cfg.MinIdleConns),
		zap.Duration("dial_timeout", cfg.DialTimeout),
		zap.Duration("read_timeout", cfg.ReadTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	return client, nil
}

// NewLock acquires a distributed lock using Redis
func NewLock(ctx context.Context, client *redis.Client, key string, value string, ttl time.Duration) (bool, error) {
	if client == nil {
		return false, errors.New("Redis client is not initialized")
	}
	return client.SetNX(ctx, key, value, ttl).Result()
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// ReleaseLock releases a distributed lock using Redis with Lua scripting
func ReleaseLock(ctx context.Context, client *redis.Client, key string, value string) error {
	if client == nil {
		return errors.New("Redis client is not initialized")
	}

	result, err := releaseLockScript.Run(ctx, client, []string{key}, value).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if result == 0 {
		return ErrNotLockOwner
	}
	return nil
}

var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// ExtendLock resets the TTL of a lock that value still owns.
func ExtendLock(ctx context.Context, client *redis.Client, key string, value string, ttl time.Duration) error {
	if client == nil {
		return errors.New("Redis client is not initialized")
	}

	result, err := extendLockScript.Run(ctx, client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	if result == 0 {
		return ErrNotLockOwner
	}
	return nil
}

// MonitorRedisPool logs the connection pool statistics for monitoring
func MonitorRedisPool(client *redis.Client, log *zap.Logger) {
	stats := client.PoolStats()
	log.Info("redis pool stats",
		zap.Uint32("total", stats.TotalConns),
		zap.Uint32("idle", stats.IdleConns),
		zap.Uint32("stale", stats.StaleConns),
	)
}
