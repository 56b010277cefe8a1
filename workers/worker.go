package workers

import (
	"context"
	"sync"
	"time"

	"RoyRemind/database"
	"RoyRemind/metrics"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRunTimeout = 10 * time.Minute

// Worker is a periodic background pass.
type Worker interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// WorkerManager runs registered workers on their own tickers. With a Redis client set,
// each run first takes a cluster-wide lock named after the worker so only one replica
// runs a given pass at a time.
type WorkerManager struct {
	workers    []Worker
	runTimeout time.Duration
	redis      *redis.Client
	logger     *zap.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex
}

func NewWorkerManager(runTimeout time.Duration, client *redis.Client, logger *zap.Logger) *WorkerManager {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &WorkerManager{
		runTimeout: runTimeout,
		redis:      client,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

func (wm *WorkerManager) RegisterWorker(w Worker) {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	wm.workers = append(wm.workers, w)
	wm.logger.Info("worker registered", zap.String("worker", w.Name()), zap.Duration("interval", w.Interval()))
}

func (wm *WorkerManager) Start() {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	for _, w := range wm.workers {
		wm.wg.Add(1)
		go wm.runWorker(w)
	}
	wm.logger.Info("workers started", zap.Int("count", len(wm.workers)))
}

func (wm *WorkerManager) runWorker(w Worker) {
	defer wm.wg.Done()

	ticker := time.NewTicker(w.Interval())
	defer ticker.Stop()

	wm.executeWorker(w)
	for {
		select {
		case <-ticker.C:
			wm.executeWorker(w)
		case <-wm.stopChan:
			wm.logger.Info("worker stopped", zap.String("worker", w.Name()))
			return
		}
	}
}

func (wm *WorkerManager) executeWorker(w Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), wm.runTimeout)
	defer cancel()

	log := wm.logger.With(zap.String("worker", w.Name()))

	if wm.redis != nil {
		release, ok := wm.acquire(ctx, w.Name(), log)
		if !ok {
			return
		}
		defer release()
	}

	start := time.Now()
	err := w.Run(ctx)
	elapsed := time.Since(start)
	metrics.RecordPass(w.Name(), elapsed)

	if err != nil {
		log.Error("worker run failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	log.Debug("worker run finished", zap.Duration("duration", elapsed))
}

func (wm *WorkerManager) acquire(ctx context.Context, name string, log *zap.Logger) (func(), bool) {
	key := "worker_lock:" + name
	value := uuid.New().String()

	locked, err := database.NewLock(ctx, wm.redis, key, value, wm.runTimeout)
	if err != nil {
		log.Warn("failed to take worker lock, skipping run", zap.Error(err))
		return nil, false
	}
	if !locked {
		log.Debug("another replica holds the worker lock")
		return nil, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := database.ReleaseLock(releaseCtx, wm.redis, key, value); err != nil {
			log.Warn("failed to release worker lock", zap.Error(err))
		}
	}, true
}

// Stop stops the tickers and waits for in-flight runs to return.
func (wm *WorkerManager) Stop() {
	wm.stopOnce.Do(func() { close(wm.stopChan) })
	wm.wg.Wait()
	wm.logger.Info("all workers stopped")
}

// WorkerNames lists the registered workers.
func (wm *WorkerManager) WorkerNames() []string {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	names := make([]string, len(wm.workers))
	for i, w := range wm.workers {
		names[i] = w.Name()
	}
	return names
}
