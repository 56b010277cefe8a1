package main

import (
	"RoyRemind/cache"
	"RoyRemind/config"
	"RoyRemind/controllers"
	"RoyRemind/database"
	"RoyRemind/handlers"
	"RoyRemind/logger"
	"RoyRemind/models"
	"RoyRemind/repositories"
	"RoyRemind/routes"
	"RoyRemind/senders"
	"RoyRemind/services"
	"RoyRemind/workers"
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.ServiceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck
	zap.ReplaceGlobals(zlog)

	db, err := database.InitDB(context.Background(), cfg.DBURL, cfg.Env, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize database", zap.Error(err))
	}

	redisClient, err := database.NewRedisClient(cfg.Redis, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize Redis client", zap.Error(err))
	}
	database.MonitorRedisPool(redisClient, zlog)

	cacheStore, err := cache.NewCache(redisClient)
	if err != nil {
		zlog.Fatal("failed to initialize cache", zap.Error(err))
	}

	stores := repositories.NewStores(db, cacheStore, zlog)

	defaults, err := services.DefaultsFromConfig(cfg.Reminder)
	if err != nil {
		zlog.Fatal("invalid reminder defaults", zap.Error(err))
	}
	prefs := services.NewPreferenceResolver(stores.Preferences, defaults, zlog)
	locker := services.NewRedisPatientLocker(redisClient, cfg.Reminder.PatientLockTTL, zlog)
	claimer := services.NewRedisSendClaimer(redisClient, cfg.Reminder.SendClaimTTL, zlog)

	router := senders.NewRouter(cfg.Gateway.PerChannelRPS, int(cfg.Gateway.PerChannelRPS), zlog)
	if cfg.SMTP.Host != "" {
		router.Register(senders.NewEmailSender(cfg.SMTP, zlog), models.ChannelEmail)
	}
	if cfg.Gateway.BaseURL != "" {
		router.Register(senders.NewGatewaySender(cfg.Gateway, zlog),
			models.ChannelSMS, models.ChannelVoice, models.ChannelPush, models.ChannelWhatsApp, models.ChannelWebhook)
	}

	dispatchCfg := services.DispatcherConfig{
		BatchSize:             cfg.Workers.DispatchBatchSize,
		Concurrency:           cfg.Workers.DispatchConcurrency,
		SendTimeout:           cfg.Reminder.SendTimeout,
		DefaultResponseWindow: cfg.Reminder.DefaultResponseWindow,
	}
	dispatcher := services.NewDispatcher(stores, prefs, services.NewStoreTemplateRenderer(stores.Templates),
		router, locker, claimer, dispatchCfg, zlog)
	monitor := services.NewEscalationMonitor(stores, prefs, locker, dispatchCfg, zlog)
	reminders := services.NewReminderService(stores, prefs, locker, services.ReminderServiceConfig{
		SameDayBypassMinutes:   cfg.Reminder.SameDayBypassMinutes,
		ReplyCorrelationWindow: cfg.Reminder.ReplyCorrelationWindow,
		DefaultResponseWindow:  cfg.Reminder.DefaultResponseWindow,
	}, zlog)
	engagement := services.NewEngagementService(stores, services.NewEngagementScorer(services.EngagementWeights{
		RiskResponse: cfg.Reminder.RiskResponseWeight,
		RiskNoShow:   cfg.Reminder.RiskNoShowWeight,
	}, cfg.Reminder.EngagementWindow), zlog)

	manager := workers.NewWorkerManager(cfg.Workers.RunTimeout, redisClient, zlog)
	manager.RegisterWorker(workers.NewDispatchWorker(dispatcher, cfg.Workers.DispatchInterval, zlog))
	manager.RegisterWorker(workers.NewEscalationWorker(monitor, cfg.Workers.EscalationInterval, zlog))
	manager.RegisterWorker(workers.NewEngagementWorker(engagement, cfg.Workers.EngagementInterval, zlog))

	handler := routes.SetupRoutes(cfg, zlog, controllers.ReminderHandlers{
		Appointments: handlers.NewAppointmentHandler(reminders),
		Patients: handlers.NewPatientHandler(reminders,
			services.NewPreferenceService(stores.Preferences, prefs), engagement),
		Schedules: handlers.NewScheduleHandler(services.NewScheduleService(stores.Schedules, stores.Templates),
			services.NewTemplateService(repositories.NewTemplateRepository(db, cacheStore, zlog))),
		Webhooks: handlers.NewWebhookHandler(reminders),
	}, healthChecks(db, redisClient))

	srv := &http.Server{
		Addr:           ":" + cfg.HTTP.Port,
		Handler:        handler,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20,
		IdleTimeout:    30 * time.Second,
	}

	manager.Start()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		zlog.Info("starting server", zap.String("addr", srv.Addr), zap.Strings("workers", manager.WorkerNames()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("listenAndServe failed", zap.Error(err))
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	zlog.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", zap.Error(err))
	}
	manager.Stop()

	wg.Wait()

	if err := redisClient.Close(); err != nil {
		zlog.Warn("failed to close Redis client", zap.Error(err))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	zlog.Info("server exited gracefully")
}

func healthChecks(db *gorm.DB, client *redis.Client) map[string]controllers.HealthCheck {
	return map[string]controllers.HealthCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
