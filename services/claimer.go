package services

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SendClaimer hands out each dispatch key once, so an instance reprocessed after a crash
// or by a second worker is never sent twice.
type SendClaimer interface {
	Claim(ctx context.Context, dispatchKey string) (bool, error)
}

type RedisSendClaimer struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisSendClaimer(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisSendClaimer {
	return &RedisSendClaimer{client: client, ttl: ttl, logger: logger}
}

// Claim returns true the first time a key is seen. A Redis failure does not block the
// send: the instance's version check still stops a second transition.
func (c *RedisSendClaimer) Claim(ctx context.Context, dispatchKey string) (bool, error) {
	key := "send_claim:" + dispatchKey
	ok, err := c.client.SetNX(ctx, key, 1, c.ttl).Result()
	if err != nil {
		c.logger.Warn("send claim check failed, allowing send", zap.String("dispatch_key", dispatchKey), zap.Error(err))
		return true, nil
	}
	if !ok {
		c.logger.Info("skipped already claimed send", zap.String("dispatch_key", dispatchKey))
	}
	return ok, nil
}

type MemorySendClaimer struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemorySendClaimer() *MemorySendClaimer {
	return &MemorySendClaimer{seen: make(map[string]bool)}
}

func (c *MemorySendClaimer) Claim(_ context.Context, dispatchKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[dispatchKey] {
		return false, nil
	}
	c.seen[dispatchKey] = true
	return true, nil
}
