package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/internal/sentiment"
	"github.com/spec-kit/feedback-service/pkg/jobs"
)

// Classification sources label where an attempt was started.
const (
	SourceSubmission = "submission"
	SourceSweep      = "sweep"
	SourceManual     = "manual"
)

// ClassificationOutcome is the result of one classification attempt.
type ClassificationOutcome string

const (
	ClassificationCompleted ClassificationOutcome = "completed"
	// ClassificationRetryPending means the attempt failed and the record
	// stays eligible for the next sweep.
	ClassificationRetryPending ClassificationOutcome = "retry_pending"
	ClassificationFailed       ClassificationOutcome = "failed"
	// ClassificationSkipped means the record was no longer pending.
	ClassificationSkipped ClassificationOutcome = "skipped"
	ClassificationError   ClassificationOutcome = "error"
)

// ClassificationResult describes what one attempt did to a record.
type ClassificationResult struct {
	ID              string                 `json:"id"`
	Outcome         ClassificationOutcome  `json:"outcome"`
	Sentiment       *domain.Sentiment      `json:"sentiment,omitempty"`
	SentimentStatus domain.SentimentStatus `json:"sentimentStatus,omitempty"`
	Attempts        int                    `json:"sentimentAttempts"`
	Error           string                 `json:"error,omitempty"`
}

// SentimentService runs classification for a record and accounts for failures.
type SentimentService struct {
	router      *repository.Router
	classifier  sentiment.Classifier
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	maxAttempts int
	now         func() time.Time
}

// SentimentDependencies bundles collaborators of the sentiment service.
type SentimentDependencies struct {
	Router      *repository.Router
	Classifier  sentiment.Classifier
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	MaxAttempts int
	Now         func() time.Time
}

// NewSentimentService constructs the service.
func NewSentimentService(deps SentimentDependencies) *SentimentService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxAttempts <= 0 {
		deps.MaxAttempts = 5
	}
	return &SentimentService{
		router:      deps.Router,
		classifier:  deps.Classifier,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		maxAttempts: deps.MaxAttempts,
		now:         deps.Now,
	}
}

// MaxAttempts is the attempt bound after which a record is marked failed.
func (s *SentimentService) MaxAttempts() int { return s.maxAttempts }

// HandleJob is the queue handler for submission-time classification.
func (s *SentimentService) HandleJob(ctx context.Context, job jobs.Job) error {
	res, err := s.ClassifyID(ctx, job.ID, SourceSubmission)
	if err != nil {
		return err
	}
	if res.Outcome == ClassificationError {
		return errors.New(res.Error)
	}
	return nil
}

// ClassifyID loads the record and classifies it.
func (s *SentimentService) ClassifyID(ctx context.Context, id, source string) (ClassificationResult, error) {
	repo, err := s.router.For(id)
	if err != nil {
		return ClassificationResult{ID: id}, fmt.Errorf("%w: %v", repository.ErrNotFound, err)
	}
	rec, err := repo.GetByID(ctx, id)
	if err != nil {
		return ClassificationResult{ID: id}, err
	}
	return s.Classify(ctx, repo, rec, source), nil
}

// Classify makes one attempt for rec. A classifier error or a failed
// completion write costs one attempt; the record turns failed once attempts
// reach the bound.
func (s *SentimentService) Classify(ctx context.Context, repo repository.FeedbackRepository, rec *domain.FeedbackRecord, source string) (result ClassificationResult) {
	result = ClassificationResult{ID: rec.ID, Attempts: rec.SentimentAttempts, SentimentStatus: rec.SentimentStatus}
	if !rec.RetryEligible(s.maxAttempts) {
		result.Outcome = ClassificationSkipped
		return result
	}

	var err error
	ctx, span := observability.StartSpan(ctx, "sentiment", "classify",
		attribute.String("feedback_id", rec.ID),
		attribute.String("source", source),
		attribute.Int("attempts", rec.SentimentAttempts))
	defer observability.FinishSpan(span, &err)

	verdict, err := s.classifier.Classify(ctx, rec.Description, sentiment.HintsFor(rec))
	if err != nil {
		return s.fail(ctx, repo, rec, source, err)
	}

	completed, err := repo.CompleteSentiment(ctx, rec.ID, verdict, s.now().UTC())
	if err != nil {
		return s.fail(ctx, repo, rec, source, fmt.Errorf("store sentiment: %w", err))
	}
	if !completed {
		result.Outcome = ClassificationSkipped
		return result
	}

	s.metrics.RecordClassification(source, string(ClassificationCompleted))
	s.logger.Info("sentiment classified",
		zap.String("feedback_id", rec.ID),
		zap.String("source", source),
		zap.String("sentiment", string(verdict)))
	result.Outcome = ClassificationCompleted
	result.Sentiment = &verdict
	result.SentimentStatus = domain.SentimentStatusCompleted
	result.Attempts = rec.SentimentAttempts + 1
	s.publish(ctx, events.EventSentimentClassified, rec, events.SentimentPayload{
		Sentiment:       &verdict,
		SentimentStatus: domain.SentimentStatusCompleted,
		Attempts:        result.Attempts,
	})
	return result
}

func (s *SentimentService) fail(ctx context.Context, repo repository.FeedbackRepository, rec *domain.FeedbackRecord, source string, cause error) ClassificationResult {
	result := ClassificationResult{ID: rec.ID, Attempts: rec.SentimentAttempts, SentimentStatus: rec.SentimentStatus, Error: cause.Error()}
	failure, err := repo.RecordSentimentFailure(ctx, rec.ID, cause.Error(), s.maxAttempts, s.now().UTC())
	if errors.Is(err, repository.ErrNotFound) {
		result.Outcome = ClassificationSkipped
		return result
	}
	if err != nil {
		s.metrics.RecordClassification(source, string(ClassificationError))
		s.logger.Error("record sentiment failure",
			zap.String("feedback_id", rec.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		result.Outcome = ClassificationError
		result.Error = fmt.Sprintf("%v; record failure: %v", cause, err)
		return result
	}

	result.Attempts = failure.Attempts
	result.SentimentStatus = failure.Status
	result.Outcome = ClassificationRetryPending
	if failure.Status == domain.SentimentStatusFailed {
		result.Outcome = ClassificationFailed
	}
	s.metrics.RecordClassification(source, string(result.Outcome))
	s.logger.Warn("sentiment classification failed",
		zap.String("feedback_id", rec.ID),
		zap.String("source", source),
		zap.Int("attempts", failure.Attempts),
		zap.String("sentiment_status", string(failure.Status)),
		zap.Error(cause))
	s.publish(ctx, events.EventSentimentFailed, rec, events.SentimentPayload{
		SentimentStatus: failure.Status,
		Attempts:        failure.Attempts,
		Error:           cause.Error(),
	})
	return result
}

func (s *SentimentService) publish(ctx context.Context, eventType events.EventType, rec *domain.FeedbackRecord, payload events.SentimentPayload) {
	if s.dispatcher == nil {
		return
	}
	payload.State, _ = rec.State()
	payload.Department = rec.Department
	event := events.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		FeedbackID: rec.ID,
		Timestamp:  s.now().UTC(),
		Payload:    payload,
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed", zap.String("event_type", string(eventType)), zap.Error(err))
	}
}
