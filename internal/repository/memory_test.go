package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/feedback-service/internal/domain"
)

func newRecord(id string, createdAt time.Time) *domain.FeedbackRecord {
	return &domain.FeedbackRecord{
		ID:              id,
		Category:        domain.CategoryPatient,
		Department:      "Cardiology",
		Description:     "long wait",
		SentimentStatus: domain.SentimentStatusPending,
		Status:          domain.StatusPending,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestRouterRoutesByPrefix(t *testing.T) {
	ext := NewMemoryRepository(domain.PartitionExternal, nil)
	in := NewMemoryRepository(domain.PartitionInternal, nil)
	router, err := NewRouter(ext, in)
	require.NoError(t, err)

	repo, err := router.For("int-42")
	require.NoError(t, err)
	require.Equal(t, domain.PartitionInternal, repo.Partition())

	_, err = router.For("zzz-1")
	require.ErrorIs(t, err, domain.ErrUnknownPartition)

	_, err = router.GetByID(context.Background(), "zzz-1")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = NewRouter(ext)
	require.Error(t, err)
}

func TestMemoryCreateRejectsForeignPartition(t *testing.T) {
	repo := NewMemoryRepository(domain.PartitionExternal, nil)
	err := repo.Create(context.Background(), newRecord("int-1", time.Now()))
	require.Error(t, err)
}

func TestMemoryApplyTransitionCompareAndSet(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryChangeFeed()
	repo := NewMemoryRepository(domain.PartitionExternal, feed)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, newRecord("ext-1", now)))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := feed.Watch(watchCtx)
	require.NoError(t, err)

	entry := domain.AuditEntry{Action: domain.ActionTagSpam, ActorName: "nina", Timestamp: now}
	ok, err := repo.ApplyTransition(ctx, "ext-1", domain.StatePending, TransitionPatch{To: domain.StateSpam, UpdatedAt: now}, entry)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ApplyTransition(ctx, "ext-1", domain.StatePending, TransitionPatch{To: domain.StateSpam, UpdatedAt: now}, entry)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = repo.ApplyTransition(ctx, "ext-404", domain.StatePending, TransitionPatch{To: domain.StateSpam, UpdatedAt: now}, entry)
	require.NoError(t, err)
	require.False(t, ok)

	rec, err := repo.GetByID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSpam, rec.Status)
	require.Len(t, rec.ActionHistory, 1)

	select {
	case evt := <-events:
		require.Equal(t, "ext-1", evt.ID)
		state, err := evt.State()
		require.NoError(t, err)
		require.Equal(t, domain.StateSpam, state)
	case <-time.After(time.Second):
		t.Fatal("expected change event")
	}
}

func TestMemoryGetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(domain.PartitionExternal, nil)
	require.NoError(t, repo.Create(ctx, newRecord("ext-1", time.Now())))

	rec, err := repo.GetByID(ctx, "ext-1")
	require.NoError(t, err)
	rec.Description = "mutated"
	rec.ActionHistory = append(rec.ActionHistory, domain.AuditEntry{Action: domain.ActionEdit})

	again, err := repo.GetByID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, "long wait", again.Description)
	require.Empty(t, again.ActionHistory)
}

func TestMemoryApplyEditRejectsClosed(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(domain.PartitionExternal, nil)
	rec := newRecord("ext-1", time.Now())
	rec.Status = domain.StatusAssigned
	rec.DeptStatus = domain.DeptStatusApproved.Ptr()
	require.NoError(t, repo.Create(ctx, rec))

	desc := "corrected"
	ok, err := repo.ApplyEdit(ctx, "ext-1", EditPatch{Description: &desc}, domain.AuditEntry{Action: domain.ActionEdit})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryApplyEditSentimentOverride(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(domain.PartitionExternal, nil)
	rec := newRecord("ext-1", time.Now())
	reason := "timeout"
	rec.SentimentError = &reason
	require.NoError(t, repo.Create(ctx, rec))

	s := domain.SentimentNegative
	ok, err := repo.ApplyEdit(ctx, "ext-1", EditPatch{Sentiment: &s}, domain.AuditEntry{Action: domain.ActionEdit})
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.GetByID(ctx, "ext-1")
	require.NoError(t, err)
	require.Equal(t, domain.SentimentStatusCompleted, got.SentimentStatus)
	require.Nil(t, got.SentimentError)
	require.Equal(t, domain.SentimentNegative, *got.Sentiment)
	require.Equal(t, domain.StatusPending, got.Status)
}

func TestMemoryRetryEligibleAndFailureAccounting(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(domain.PartitionInternal, nil)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := newRecord("int-a", base)
	stale := newRecord("int-b", base.Add(time.Minute))
	stale.SentimentAttempts = 4
	exhausted := newRecord("int-c", base.Add(2*time.Minute))
	exhausted.SentimentAttempts = 5
	done := newRecord("int-d", base.Add(3*time.Minute))
	done.SentimentStatus = domain.SentimentStatusCompleted
	for _, rec := range []*domain.FeedbackRecord{fresh, stale, exhausted, done} {
		require.NoError(t, repo.Create(ctx, rec))
	}

	eligible, err := repo.ListRetryEligible(ctx, 5, 20)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	require.Equal(t, "int-a", eligible[0].ID)
	require.Equal(t, "int-b", eligible[1].ID)

	out, err := repo.RecordSentimentFailure(ctx, "int-b", "store unavailable", 5, base)
	require.NoError(t, err)
	require.Equal(t, 5, out.Attempts)
	require.Equal(t, domain.SentimentStatusFailed, out.Status)

	out, err = repo.RecordSentimentFailure(ctx, "int-a", "store unavailable", 5, base)
	require.NoError(t, err)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, domain.SentimentStatusPending, out.Status)

	_, err = repo.RecordSentimentFailure(ctx, "int-d", "x", 5, base)
	require.ErrorIs(t, err, ErrNotFound)

	ok, err := repo.CompleteSentiment(ctx, "int-a", domain.SentimentPositive, base)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := repo.GetByID(ctx, "int-a")
	require.NoError(t, err)
	require.Equal(t, 2, got.SentimentAttempts)
	require.Nil(t, got.SentimentError)

	ok, err = repo.CompleteSentiment(ctx, "int-a", domain.SentimentNegative, base)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryListFiltersByStates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository(domain.PartitionExternal, nil)
	base := time.Now()
	a := newRecord("ext-a", base)
	b := newRecord("ext-b", base.Add(time.Second))
	b.Status = domain.StatusEscalated
	b.DeptStatus = domain.DeptStatusEscalated.Ptr()
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	all, err := repo.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "ext-b", all[0].ID)

	escalated, err := repo.List(ctx, Filter{States: []domain.State{domain.StateEscalated}})
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	require.Equal(t, "ext-b", escalated[0].ID)

	none, err := repo.List(ctx, Filter{States: []domain.State{}})
	require.NoError(t, err)
	require.Empty(t, none)

	page, err := repo.List(ctx, Filter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "ext-a", page[0].ID)
}
