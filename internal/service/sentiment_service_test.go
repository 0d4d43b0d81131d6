package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/internal/sentiment"
)

// brokenWriteRepository fails every completion write.
type brokenWriteRepository struct {
	*repository.MemoryRepository
}

func (r brokenWriteRepository) CompleteSentiment(context.Context, string, domain.Sentiment, time.Time) (bool, error) {
	return false, errors.New("connection reset by peer")
}

func seedPending(t *testing.T, repo repository.FeedbackRepository, id string, attempts int) {
	t.Helper()
	rating := 2
	require.NoError(t, repo.Create(context.Background(), &domain.FeedbackRecord{
		ID:                id,
		Category:          domain.CategoryVisitor,
		Description:       "the ward was noisy all night",
		Rating:            &rating,
		Status:            domain.StatusPending,
		SentimentStatus:   domain.SentimentStatusPending,
		SentimentAttempts: attempts,
		CreatedAt:         time.Now().UTC(),
	}))
}

func newSentimentFixture(t *testing.T, external repository.FeedbackRepository, classifier sentiment.Classifier) (*SentimentService, *recordingPublisher, *repository.Router) {
	t.Helper()
	router, err := repository.NewRouter(external, repository.NewMemoryRepository(domain.PartitionInternal, nil))
	require.NoError(t, err)
	published := &recordingPublisher{}
	dispatcher := events.NewInMemoryDispatcher(nil)
	NewNotificationService(dispatcher, published, nil).RegisterHandlers()
	svc := NewSentimentService(SentimentDependencies{
		Router:      router,
		Classifier:  classifier,
		Dispatcher:  dispatcher,
		MaxAttempts: 5,
	})
	return svc, published, router
}

func TestStoreErrorOnLastAttemptMarksFailed(t *testing.T) {
	repo := brokenWriteRepository{repository.NewMemoryRepository(domain.PartitionExternal, nil)}
	svc, published, router := newSentimentFixture(t, repo, &stubClassifier{verdict: domain.SentimentPositive})
	seedPending(t, repo, "ext-d", 4)

	res, err := svc.ClassifyID(context.Background(), "ext-d", SourceSweep)
	require.NoError(t, err)
	require.Equal(t, ClassificationFailed, res.Outcome)
	require.Equal(t, 5, res.Attempts)

	rec, err := router.GetByID(context.Background(), "ext-d")
	require.NoError(t, err)
	require.Equal(t, 5, rec.SentimentAttempts)
	require.Equal(t, domain.SentimentStatusFailed, rec.SentimentStatus)
	require.Contains(t, *rec.SentimentError, "connection reset")
	require.Nil(t, rec.Sentiment)

	msgs := published.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, fanout.ReasonSentiment, msgs[0].Reason)
	require.Equal(t, domain.SentimentStatusFailed, msgs[0].Changes["sentimentStatus"])

	res, err = svc.ClassifyID(context.Background(), "ext-d", SourceSweep)
	require.NoError(t, err)
	require.Equal(t, ClassificationSkipped, res.Outcome)
}

func TestClassificationErrorLeavesRecordPending(t *testing.T) {
	repo := repository.NewMemoryRepository(domain.PartitionExternal, nil)
	classifier := &stubClassifier{err: &sentiment.ClassificationError{Reason: "upstream status 503"}}
	svc, _, router := newSentimentFixture(t, repo, classifier)
	seedPending(t, repo, "ext-r", 0)

	res, err := svc.ClassifyID(context.Background(), "ext-r", SourceSubmission)
	require.NoError(t, err)
	require.Equal(t, ClassificationRetryPending, res.Outcome)
	require.Equal(t, 1, res.Attempts)

	rec, err := router.GetByID(context.Background(), "ext-r")
	require.NoError(t, err)
	require.Equal(t, domain.SentimentStatusPending, rec.SentimentStatus)
	require.True(t, rec.RetryEligible(5))
}

func TestClassifyCompletesAndCountsAttempt(t *testing.T) {
	repo := repository.NewMemoryRepository(domain.PartitionExternal, nil)
	svc, published, router := newSentimentFixture(t, repo, &stubClassifier{verdict: domain.SentimentNeutral})
	seedPending(t, repo, "ext-ok", 2)

	res, err := svc.ClassifyID(context.Background(), "ext-ok", SourceSweep)
	require.NoError(t, err)
	require.Equal(t, ClassificationCompleted, res.Outcome)
	require.Equal(t, domain.SentimentNeutral, *res.Sentiment)

	rec, err := router.GetByID(context.Background(), "ext-ok")
	require.NoError(t, err)
	require.Equal(t, 3, rec.SentimentAttempts)
	require.Equal(t, domain.SentimentStatusCompleted, rec.SentimentStatus)
	require.Len(t, published.messages(), 1)
}

func TestClassifyUnknownIDIsNotFound(t *testing.T) {
	repo := repository.NewMemoryRepository(domain.PartitionExternal, nil)
	svc, _, _ := newSentimentFixture(t, repo, &stubClassifier{verdict: domain.SentimentNeutral})

	_, err := svc.ClassifyID(context.Background(), "bogus", SourceSweep)
	require.ErrorIs(t, err, repository.ErrNotFound)
	_, err = svc.ClassifyID(context.Background(), "ext-nope", SourceSweep)
	require.ErrorIs(t, err, repository.ErrNotFound)
}
