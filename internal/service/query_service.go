package service

import (
	"context"
	"sort"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/repository"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListQuery describes dashboard listing filters. They narrow the caller's
// role scope and never widen it.
type ListQuery struct {
	Partition       *domain.Partition
	Status          *domain.Status
	DeptStatus      *domain.DeptStatus
	Department      *string
	Sentiment       *domain.Sentiment
	SentimentStatus *domain.SentimentStatus
	Limit           int
	Offset          int
}

// Page returns the effective limit and offset.
func (q ListQuery) Page() (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// QueryService serves role-scoped reads across both partitions.
type QueryService struct {
	router *repository.Router
}

// NewQueryService constructs the service.
func NewQueryService(router *repository.Router) *QueryService {
	return &QueryService{router: router}
}

// List returns records visible to the principal, newest first.
func (s *QueryService) List(ctx context.Context, principal domain.Principal, query ListQuery) ([]domain.FeedbackRecord, error) {
	filter := scopedFilter(principal, query)

	limit, offset := query.Page()
	filter.Limit = limit + offset

	var merged []domain.FeedbackRecord
	for _, repo := range s.router.All() {
		if query.Partition != nil && repo.Partition() != *query.Partition {
			continue
		}
		records, err := repo.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		merged = append(merged, records...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})

	if offset >= len(merged) {
		return []domain.FeedbackRecord{}, nil
	}
	end := offset + limit
	if end > len(merged) {
		end = len(merged)
	}
	return merged[offset:end], nil
}

// Get returns one record if it is inside the principal's scope.
func (s *QueryService) Get(ctx context.Context, principal domain.Principal, id string) (*domain.FeedbackRecord, error) {
	rec, err := s.router.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	state, err := rec.State()
	if err != nil {
		return nil, err
	}
	if !principal.CanView(state, rec.Department) {
		return nil, apperrors.NewForbidden("record is outside your dashboard scope")
	}
	return rec, nil
}

// History returns the audit trail of a record in append order.
func (s *QueryService) History(ctx context.Context, principal domain.Principal, id string) ([]domain.AuditEntry, error) {
	rec, err := s.Get(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	if rec.ActionHistory == nil {
		return []domain.AuditEntry{}, nil
	}
	return rec.ActionHistory, nil
}

func scopedFilter(principal domain.Principal, query ListQuery) repository.Filter {
	candidates := domain.ScopeStates(principal.Role)
	if candidates == nil && principal.Role != domain.RoleIntake {
		candidates = []domain.State{}
	}
	if query.Status != nil || query.DeptStatus != nil {
		if candidates == nil {
			candidates = domain.AllStates()
		}
		narrowed := make([]domain.State, 0, len(candidates))
		for _, state := range candidates {
			if query.Status != nil && state.Status() != *query.Status {
				continue
			}
			if query.DeptStatus != nil && state.DeptStatus() != *query.DeptStatus {
				continue
			}
			narrowed = append(narrowed, state)
		}
		candidates = narrowed
	}

	filter := repository.Filter{
		States:          candidates,
		Department:      query.Department,
		Sentiment:       query.Sentiment,
		SentimentStatus: query.SentimentStatus,
	}
	if principal.Role == domain.RoleDepartment {
		own := principal.Department
		if query.Department != nil && *query.Department != own {
			filter.States = []domain.State{}
		}
		filter.Department = &own
	}
	return filter
}
