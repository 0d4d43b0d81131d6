package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// MemoryRepository keeps one partition in process memory. It backs
// STORE_DRIVER=memory and the test suites.
type MemoryRepository struct {
	partition domain.Partition
	feed      *MemoryChangeFeed

	mu      sync.RWMutex
	records map[string]*domain.FeedbackRecord
}

// NewMemoryRepository creates an empty partition. feed may be nil.
func NewMemoryRepository(partition domain.Partition, feed *MemoryChangeFeed) *MemoryRepository {
	return &MemoryRepository{
		partition: partition,
		feed:      feed,
		records:   make(map[string]*domain.FeedbackRecord),
	}
}

func (r *MemoryRepository) Partition() domain.Partition { return r.partition }

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Create(_ context.Context, record *domain.FeedbackRecord) error {
	if p, err := domain.PartitionOf(record.ID); err != nil || p != r.partition {
		return fmt.Errorf("record %q does not belong to partition %s", record.ID, r.partition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.ID]; exists {
		return fmt.Errorf("record %q already exists", record.ID)
	}
	r.records[record.ID] = cloneRecord(record)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*domain.FeedbackRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (r *MemoryRepository) List(_ context.Context, filter Filter) ([]domain.FeedbackRecord, error) {
	r.mu.RLock()
	var matched []domain.FeedbackRecord
	for _, rec := range r.records {
		if matchesFilter(rec, filter) {
			matched = append(matched, *cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return paginate(matched, filter.Limit, filter.Offset), nil
}

func (r *MemoryRepository) ApplyTransition(_ context.Context, id string, from domain.State, patch TransitionPatch, entry domain.AuditEntry) (bool, error) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	current, err := rec.State()
	if err != nil || current != from {
		r.mu.Unlock()
		return false, nil
	}

	rec.Status = patch.To.Status()
	rec.DeptStatus = patch.To.DeptStatus().Ptr()
	if patch.Department != nil {
		rec.Department = *patch.Department
	}
	setString(&rec.ReportDetails, patch.ReportDetails)
	setString(&rec.FinalActionDescription, patch.FinalActionDescription)
	setString(&rec.RevisionNotes, patch.RevisionNotes)
	setString(&rec.AdminNotes, patch.AdminNotes)
	if patch.ReportCreatedAt != nil {
		at := *patch.ReportCreatedAt
		rec.ReportCreatedAt = &at
	}
	rec.UpdatedAt = patch.UpdatedAt
	rec.ActionHistory = append(rec.ActionHistory, cloneEntry(entry))
	evt := ChangeEvent{
		ID:         rec.ID,
		Partition:  r.partition,
		Status:     rec.Status,
		DeptStatus: patch.To.DeptStatus(),
		Department: rec.Department,
		UpdatedAt:  rec.UpdatedAt,
	}
	r.mu.Unlock()

	r.feed.publish(evt)
	return true, nil
}

func (r *MemoryRepository) ApplyEdit(_ context.Context, id string, patch EditPatch, entry domain.AuditEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Closed() {
		return false, nil
	}
	if patch.Description != nil {
		rec.Description = *patch.Description
	}
	if patch.FeedbackType != nil {
		rec.FeedbackType = *patch.FeedbackType
	}
	if patch.Department != nil {
		rec.Department = *patch.Department
	}
	if patch.Sentiment != nil {
		s := *patch.Sentiment
		rec.Sentiment = &s
		rec.SentimentStatus = domain.SentimentStatusCompleted
		rec.SentimentError = nil
	}
	setString(&rec.ReportDetails, patch.ReportDetails)
	rec.UpdatedAt = patch.UpdatedAt
	rec.ActionHistory = append(rec.ActionHistory, cloneEntry(entry))
	return true, nil
}

func (r *MemoryRepository) ListRetryEligible(_ context.Context, maxAttempts, limit int) ([]domain.FeedbackRecord, error) {
	r.mu.RLock()
	var eligible []domain.FeedbackRecord
	for _, rec := range r.records {
		if rec.RetryEligible(maxAttempts) {
			eligible = append(eligible, *cloneRecord(rec))
		}
	}
	r.mu.RUnlock()

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return paginate(eligible, limit, 0), nil
}

func (r *MemoryRepository) CompleteSentiment(_ context.Context, id string, sentiment domain.Sentiment, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.SentimentStatus != domain.SentimentStatusPending {
		return false, nil
	}
	rec.Sentiment = &sentiment
	rec.SentimentStatus = domain.SentimentStatusCompleted
	rec.SentimentAttempts++
	rec.SentimentError = nil
	rec.UpdatedAt = at
	return true, nil
}

func (r *MemoryRepository) RecordSentimentFailure(_ context.Context, id string, reason string, maxAttempts int, at time.Time) (SentimentFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.SentimentStatus != domain.SentimentStatusPending {
		return SentimentFailure{}, ErrNotFound
	}
	rec.SentimentAttempts++
	if rec.SentimentAttempts >= maxAttempts {
		rec.SentimentStatus = domain.SentimentStatusFailed
	}
	rec.SentimentError = &reason
	rec.UpdatedAt = at
	return SentimentFailure{Attempts: rec.SentimentAttempts, Status: rec.SentimentStatus}, nil
}

// MemoryChangeFeed broadcasts state changes of memory repositories.
type MemoryChangeFeed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan ChangeEvent
}

// NewMemoryChangeFeed creates a feed with no watchers.
func NewMemoryChangeFeed() *MemoryChangeFeed {
	return &MemoryChangeFeed{subs: make(map[int]chan ChangeEvent)}
}

// Watch registers a watcher until ctx is done.
func (f *MemoryChangeFeed) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 64)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()
	return ch, nil
}

func (f *MemoryChangeFeed) publish(evt ChangeEvent) {
	if f == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func matchesFilter(rec *domain.FeedbackRecord, filter Filter) bool {
	if filter.States != nil {
		state, err := rec.State()
		if err != nil || !containsState(filter.States, state) {
			return false
		}
	}
	if filter.Department != nil && rec.Department != *filter.Department {
		return false
	}
	if filter.Sentiment != nil && (rec.Sentiment == nil || *rec.Sentiment != *filter.Sentiment) {
		return false
	}
	if filter.SentimentStatus != nil && rec.SentimentStatus != *filter.SentimentStatus {
		return false
	}
	return true
}

func containsState(states []domain.State, s domain.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func paginate(records []domain.FeedbackRecord, limit, offset int) []domain.FeedbackRecord {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func setString(dst **string, src *string) {
	if src == nil {
		return
	}
	v := *src
	*dst = &v
}

func cloneEntry(e domain.AuditEntry) domain.AuditEntry {
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	return e
}

func cloneRecord(rec *domain.FeedbackRecord) *domain.FeedbackRecord {
	out := *rec
	out.Contact = domain.Contact{
		Name:  copyPtr(rec.Contact.Name),
		Email: copyPtr(rec.Contact.Email),
		Phone: copyPtr(rec.Contact.Phone),
	}
	out.Rating = copyPtr(rec.Rating)
	out.ImpactSeverity = copyPtr(rec.ImpactSeverity)
	out.Sentiment = copyPtr(rec.Sentiment)
	out.SentimentError = copyPtr(rec.SentimentError)
	out.DeptStatus = copyPtr(rec.DeptStatus)
	out.ReportDetails = copyPtr(rec.ReportDetails)
	out.ReportCreatedAt = copyPtr(rec.ReportCreatedAt)
	out.FinalActionDescription = copyPtr(rec.FinalActionDescription)
	out.RevisionNotes = copyPtr(rec.RevisionNotes)
	out.AdminNotes = copyPtr(rec.AdminNotes)
	out.ActionHistory = make([]domain.AuditEntry, len(rec.ActionHistory))
	for i, e := range rec.ActionHistory {
		out.ActionHistory[i] = cloneEntry(e)
	}
	return &out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
