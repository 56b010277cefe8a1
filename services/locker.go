package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RoyRemind/database"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PatientLocker serializes dispatch, escalation and cancellation work for one patient.
type PatientLocker interface {
	Lock(ctx context.Context, patientID string) (unlock func(), err error)
}

// RedisPatientLocker holds a Redis lock per patient so several processes can run passes.
// While a lock is held its TTL is refreshed every third of the TTL, so a slow pass keeps
// the lock and a crashed process loses it within one TTL.
type RedisPatientLocker struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

func NewRedisPatientLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPatientLocker {
	return &RedisPatientLocker{
		client:     client,
		ttl:        ttl,
		maxRetries: 3,
		retryDelay: 200 * time.Millisecond,
		logger:     logger,
	}
}

func patientLockKey(patientID string) string {
	return "patient_lock:" + patientID
}

func (l *RedisPatientLocker) Lock(ctx context.Context, patientID string) (func(), error) {
	key := patientLockKey(patientID)
	value := uuid.New().String()

	var locked bool
	var err error
	for i := 0; i < l.maxRetries; i++ {
		locked, err = database.NewLock(ctx, l.client, key, value, l.ttl)
		if err == nil && locked {
			break
		}
		if i < l.maxRetries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.retryDelay):
			}
		}
	}
	if !locked {
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLockNotAcquired, patientID, err)
		}
		return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, patientID)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(patientID, key, value, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release on a fresh context so a cancelled pass still frees the lock.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := database.ReleaseLock(releaseCtx, l.client, key, value); err != nil {
				l.logger.Warn("failed to release patient lock", zap.String("patient_id", patientID), zap.Error(err))
			}
		})
	}, nil
}

func (l *RedisPatientLocker) keepAlive(patientID, key, value string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := database.ExtendLock(ctx, l.client, key, value, l.ttl)
			cancel()
			if errors.Is(err, database.ErrNotLockOwner) {
				l.logger.Warn("patient lock lost while held", zap.String("patient_id", patientID))
				return
			}
			if err != nil {
				l.logger.Warn("failed to extend patient lock", zap.String("patient_id", patientID), zap.Error(err))
			}
		}
	}
}

// LocalPatientLocker serializes per patient within one process.
type LocalPatientLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocalPatientLocker() *LocalPatientLocker {
	return &LocalPatientLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *LocalPatientLocker) Lock(ctx context.Context, patientID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[patientID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[patientID] = m
	}
	l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.Lock()
	return m.Unlock, nil
}
