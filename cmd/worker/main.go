package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/persistence"
	"github.com/spec-kit/feedback-service/internal/sentiment"
	"github.com/spec-kit/feedback-service/internal/service"
	"github.com/spec-kit/feedback-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Store.Driver == config.StoreDriverMemory {
		logger.Fatal("worker needs a shared store; the api process sweeps the in-memory store itself")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	store, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close(context.Background())

	redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redis.Close()

	// Classification results reach dashboards through the shared bus.
	dispatcher := events.NewAsyncDispatcher(256, logger)
	notifier := fanout.NewNotifier(
		fanout.NewRedisBus(redis.Client, cfg.Fanout.Channel, logger),
		fanout.NewRedisSuppressor(redis.Client, cfg.Fanout.SuppressionTTL),
		metrics, logger)
	service.NewNotificationService(dispatcher, notifier, logger).RegisterHandlers()

	var classifier sentiment.Classifier = sentiment.NewHTTPClassifier(cfg.Sentiment, logger)
	if cfg.Sentiment.SwallowErrors {
		classifier = sentiment.NewLenient(classifier, logger)
	}
	sentimentService := service.NewSentimentService(service.SentimentDependencies{
		Router:      store.Router,
		Classifier:  classifier,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
		MaxAttempts: cfg.Sentiment.MaxAttempts,
	})
	retryWorker := worker.NewSentimentRetryWorker(store.Router, sentimentService, worker.RetryWorkerConfig{
		Batch:   cfg.Sentiment.SweepBatch,
		Delay:   cfg.Sentiment.SweepDelay,
		Metrics: metrics,
		Logger:  logger,
	})

	redisOpt := redis.QueueOpt()
	srv := asynq.NewServer(redisOpt, asynq.Config{
		// Sweeps must not overlap within one worker.
		Concurrency: 1,
		Logger:      logger.Sugar(),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: logger.Sugar()})

	entryID, err := worker.RegisterSweepSchedule(scheduler, cfg.Sentiment.SweepInterval)
	if err != nil {
		logger.Fatal("failed to register sweep schedule", zap.Error(err))
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	if err := srv.Start(retryWorker.Handler()); err != nil {
		logger.Fatal("failed to start task server", zap.Error(err))
	}
	logger.Info("sentiment worker started",
		zap.String("schedule_entry", entryID),
		zap.Duration("interval", cfg.Sentiment.SweepInterval),
		zap.String("store", cfg.Store.Driver))

	<-ctx.Done()
	logger.Info("shutting down")

	scheduler.Shutdown()
	srv.Shutdown()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("event dispatcher did not drain", zap.Error(err))
	}
}
