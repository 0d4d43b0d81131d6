package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// ErrNotFound is returned when a record id is not present in its partition.
var ErrNotFound = errors.New("feedback record not found")

// Filter narrows record listings. Nil or zero fields do not constrain.
type Filter struct {
	// States restricts results to the given composite states. An empty,
	// non-nil slice matches nothing.
	States          []domain.State
	Department      *string
	Sentiment       *domain.Sentiment
	SentimentStatus *domain.SentimentStatus
	Limit           int
	Offset          int
}

// TransitionPatch carries the field changes of one lifecycle transition.
type TransitionPatch struct {
	To                     domain.State
	Department             *string
	ReportDetails          *string
	ReportCreatedAt        *time.Time
	FinalActionDescription *string
	RevisionNotes          *string
	AdminNotes             *string
	UpdatedAt              time.Time
}

// EditPatch carries a direct correction. It never touches the composite state.
type EditPatch struct {
	Description   *string
	FeedbackType  *string
	Department    *string
	Sentiment     *domain.Sentiment
	ReportDetails *string
	UpdatedAt     time.Time
}

// Empty reports whether the patch changes nothing.
func (p EditPatch) Empty() bool {
	return p.Description == nil && p.FeedbackType == nil && p.Department == nil &&
		p.Sentiment == nil && p.ReportDetails == nil
}

// SentimentFailure is the accounting state after a failed classification.
type SentimentFailure struct {
	Attempts int
	Status   domain.SentimentStatus
}

// FeedbackRepository persists one partition of feedback records. Every
// mutation is a single-document atomic update.
type FeedbackRepository interface {
	Partition() domain.Partition
	Create(ctx context.Context, record *domain.FeedbackRecord) error
	GetByID(ctx context.Context, id string) (*domain.FeedbackRecord, error)
	List(ctx context.Context, filter Filter) ([]domain.FeedbackRecord, error)
	// ApplyTransition moves the record from the given state and appends the
	// entry. It reports false when the record is absent or no longer in from.
	ApplyTransition(ctx context.Context, id string, from domain.State, patch TransitionPatch, entry domain.AuditEntry) (bool, error)
	// ApplyEdit applies a correction to a non-closed record and appends the entry.
	ApplyEdit(ctx context.Context, id string, patch EditPatch, entry domain.AuditEntry) (bool, error)
	ListRetryEligible(ctx context.Context, maxAttempts, limit int) ([]domain.FeedbackRecord, error)
	// CompleteSentiment stores a verdict on a record still pending classification.
	CompleteSentiment(ctx context.Context, id string, sentiment domain.Sentiment, at time.Time) (bool, error)
	// RecordSentimentFailure increments attempts once, marking the record
	// failed when attempts reach maxAttempts.
	RecordSentimentFailure(ctx context.Context, id string, reason string, maxAttempts int, at time.Time) (SentimentFailure, error)
	Ping(ctx context.Context) error
}

// ChangeEvent is a state change observed on the store's native change feed.
type ChangeEvent struct {
	ID         string
	Partition  domain.Partition
	Status     domain.Status
	DeptStatus domain.DeptStatus
	Department string
	UpdatedAt  time.Time
}

// State resolves the composite state carried by the event.
func (e ChangeEvent) State() (domain.State, error) {
	return domain.StateFromPair(e.Status, e.DeptStatus)
}

// ChangeFeed streams state changes committed to the store by any writer.
type ChangeFeed interface {
	Watch(ctx context.Context) (<-chan ChangeEvent, error)
}

// Router addresses the two homogeneous partition repositories by id prefix.
type Router struct {
	repos map[domain.Partition]FeedbackRepository
}

// NewRouter builds a router; both partitions must be present.
func NewRouter(repos ...FeedbackRepository) (*Router, error) {
	r := &Router{repos: make(map[domain.Partition]FeedbackRepository, len(repos))}
	for _, repo := range repos {
		r.repos[repo.Partition()] = repo
	}
	for _, p := range domain.Partitions() {
		if _, ok := r.repos[p]; !ok {
			return nil, fmt.Errorf("missing repository for partition %s", p)
		}
	}
	return r, nil
}

// For returns the repository owning the id.
func (r *Router) For(id string) (FeedbackRepository, error) {
	p, err := domain.PartitionOf(id)
	if err != nil {
		return nil, err
	}
	return r.repos[p], nil
}

// Partition returns the repository of a partition.
func (r *Router) Partition(p domain.Partition) FeedbackRepository {
	return r.repos[p]
}

// All returns the repositories in sweep order.
func (r *Router) All() []FeedbackRepository {
	out := make([]FeedbackRepository, 0, len(r.repos))
	for _, p := range domain.Partitions() {
		out = append(out, r.repos[p])
	}
	return out
}

// GetByID loads a record from whichever partition its id addresses. Ids with
// an unknown prefix are reported as not found.
func (r *Router) GetByID(ctx context.Context, id string) (*domain.FeedbackRecord, error) {
	repo, err := r.For(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return repo.GetByID(ctx, id)
}

// Ping checks every partition backend.
func (r *Router) Ping(ctx context.Context) error {
	for _, repo := range r.All() {
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("partition %s: %w", repo.Partition(), err)
		}
	}
	return nil
}
