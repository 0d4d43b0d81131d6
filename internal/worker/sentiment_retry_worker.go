package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/internal/service"
)

// Sweep defaults.
const (
	DefaultSweepBatch = 20
	DefaultSweepDelay = 200 * time.Millisecond
)

// SweepItem is the outcome for one record of a sweep.
type SweepItem struct {
	Partition domain.Partition `json:"partition"`
	service.ClassificationResult
}

// SweepReport lists what one sweep did.
type SweepReport struct {
	StartedAt  time.Time   `json:"startedAt"`
	FinishedAt time.Time   `json:"finishedAt"`
	Items      []SweepItem `json:"items"`
}

// Count returns how many items ended with outcome.
func (r *SweepReport) Count(outcome service.ClassificationOutcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome == outcome {
			n++
		}
	}
	return n
}

// Classifier makes one classification attempt for a record.
type Classifier interface {
	Classify(ctx context.Context, repo repository.FeedbackRepository, rec *domain.FeedbackRecord, source string) service.ClassificationResult
	MaxAttempts() int
}

// SentimentRetryWorker re-attempts stalled classification. Records are
// processed one at a time with a fixed pause between them.
type SentimentRetryWorker struct {
	router     *repository.Router
	classifier Classifier
	batch      int
	delay      time.Duration
	sleep      func(context.Context, time.Duration) error
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// RetryWorkerConfig tunes the sweep.
type RetryWorkerConfig struct {
	Batch   int
	Delay   time.Duration
	Metrics *observability.Metrics
	Logger  *zap.Logger
	// Sleep replaces the inter-item pause; tests use it to avoid real waits.
	Sleep func(context.Context, time.Duration) error
}

// NewSentimentRetryWorker constructs the worker.
func NewSentimentRetryWorker(router *repository.Router, classifier Classifier, cfg RetryWorkerConfig) *SentimentRetryWorker {
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultSweepBatch
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultSweepDelay
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SentimentRetryWorker{
		router:     router,
		classifier: classifier,
		batch:      cfg.Batch,
		delay:      cfg.Delay,
		sleep:      cfg.Sleep,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Sweep runs one bounded pass over both partitions. A failure on one record
// or one partition does not stop the rest; listing errors are joined into
// the returned error alongside the partial report.
func (w *SentimentRetryWorker) Sweep(ctx context.Context) (report *SweepReport, err error) {
	ctx, span := observability.StartSpan(ctx, "worker", "sentiment_sweep", attribute.Int("batch", w.batch))
	defer observability.FinishSpan(span, &err)

	report = &SweepReport{StartedAt: time.Now().UTC(), Items: []SweepItem{}}
	var errs []error
	for _, repo := range w.router.All() {
		if err := w.sweepPartition(ctx, repo, report); err != nil {
			if ctx.Err() != nil {
				report.FinishedAt = time.Now().UTC()
				return report, ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	report.FinishedAt = time.Now().UTC()
	w.logger.Info("sentiment sweep finished",
		zap.Int("items", len(report.Items)),
		zap.Int("completed", report.Count(service.ClassificationCompleted)),
		zap.Int("failed", report.Count(service.ClassificationFailed)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, errors.Join(errs...)
}

func (w *SentimentRetryWorker) sweepPartition(ctx context.Context, repo repository.FeedbackRepository, report *SweepReport) error {
	partition := repo.Partition()
	records, err := repo.ListRetryEligible(ctx, w.classifier.MaxAttempts(), w.batch)
	if err != nil {
		w.logger.Error("list retry-eligible records failed", zap.String("partition", string(partition)), zap.Error(err))
		return fmt.Errorf("partition %s: %w", partition, err)
	}
	for i := range records {
		if i > 0 && w.delay > 0 {
			if err := w.sleep(ctx, w.delay); err != nil {
				return err
			}
		}
		res := w.classifier.Classify(ctx, repo, &records[i], service.SourceSweep)
		w.metrics.RecordSweepItem(string(partition), string(res.Outcome))
		report.Items = append(report.Items, SweepItem{Partition: partition, ClassificationResult: res})
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
