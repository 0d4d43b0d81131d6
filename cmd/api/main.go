package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/feedback-service/internal/api/http"
	"github.com/spec-kit/feedback-service/internal/api/http/handlers"
	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/config"
	"github.com/spec-kit/feedback-service/internal/crosstab"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/persistence"
	"github.com/spec-kit/feedback-service/internal/sentiment"
	"github.com/spec-kit/feedback-service/internal/service"
	"github.com/spec-kit/feedback-service/internal/worker"
	"github.com/spec-kit/feedback-service/pkg/jobs"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

	store, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close(context.Background())

	checks := map[string]handlers.Pinger{"store": store.Router}

	var (
		bus           fanout.Bus
		suppressor    fanout.Suppressor
		tabSuppressor fanout.Suppressor
		asynqClient   *asynq.Client
	)
	if cfg.Store.Driver == config.StoreDriverMemory {
		bus = fanout.NewMemoryBus()
		suppressor = fanout.NewMemorySuppressor(cfg.Fanout.SuppressionTTL, nil)
		tabSuppressor = fanout.NewMemorySuppressor(cfg.Fanout.CrossTabTTL, nil)
	} else {
		redis, err := persistence.NewRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		defer redis.Close()
		checks["redis"] = redis
		bus = fanout.NewRedisBus(redis.Client, cfg.Fanout.Channel, logger)
		suppressor = fanout.NewRedisSuppressor(redis.Client, cfg.Fanout.SuppressionTTL)
		tabSuppressor = fanout.NewRedisSuppressor(redis.Client, cfg.Fanout.CrossTabTTL)

		asynqClient = asynq.NewClient(redis.QueueOpt())
		defer asynqClient.Close()
	}

	dispatcher := events.NewAsyncDispatcher(1024, logger)

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

	queue := jobs.NewQueue("sentiment", sentimentService.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Sentiment.QueueWorkers,
		BufferSize: 1024,
		Logger:     logger,
	})
	queue.Start(ctx)

	lifecycleService := service.NewLifecycleService(service.LifecycleDependencies{
		Router:      store.Router,
		Departments: domain.NewDepartments(cfg.Workflow.Departments),
		Dispatcher:  dispatcher,
		Queue:       queue,
		Metrics:     metrics,
		Logger:      logger,
	})
	queryService := service.NewQueryService(store.Router)

	notifier := fanout.NewNotifier(bus, suppressor, metrics, logger)
	hub := fanout.NewHub(cfg.Fanout.ViewerBuffer, logger)
	worker.StartNotificationWorker(ctx, service.NewNotificationService(dispatcher, notifier, logger), hub, bus, logger)
	go func() {
		_ = worker.NewChangeFeedConsumer(store.Feed, notifier, logger).Run(ctx)
	}()

	tabs := crosstab.NewBus(tabSuppressor, logger)

	retryWorker := worker.NewSentimentRetryWorker(store.Router, sentimentService, worker.RetryWorkerConfig{
		Batch:   cfg.Sentiment.SweepBatch,
		Delay:   cfg.Sentiment.SweepDelay,
		Metrics: metrics,
		Logger:  logger,
	})
	var enqueueSweep func(context.Context) error
	if asynqClient != nil {
		enqueueSweep = func(ctx context.Context) error {
			return worker.EnqueueSweep(ctx, asynqClient, "api")
		}
	} else {
		// Without a shared store the worker process cannot see these records.
		go runSweepLoop(ctx, retryWorker, cfg.Sentiment.SweepInterval, logger)
	}

	validate := handlers.NewValidator()
	app := fiber.New(fiber.Config{AppName: cfg.App.Name, DisableStartupMessage: true})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks),
		Feedback:       handlers.NewFeedbackHandler(lifecycleService, queryService, tabs, validate, logger),
		Sentiment:      handlers.NewSentimentHandler(sentimentService, retryWorker, enqueueSweep),
		Events:         handlers.NewEventsHandler(ctx, hub, tabs, validate, logger),
		AuthMiddleware: auth.NewAuthMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)),
		Metrics:        metrics.Handler(),
	})

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()), zap.String("store", cfg.Store.Driver))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	queue.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("event dispatcher did not drain", zap.Error(err))
	}
}

func runSweepLoop(ctx context.Context, w *worker.SentimentRetryWorker, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("sentiment sweep finished with errors", zap.Error(err))
			}
		}
	}
}
