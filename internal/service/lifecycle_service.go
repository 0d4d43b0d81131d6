package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/pkg/jobs"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

// JobClassifySentiment is the queue job type of a submission's classification.
const JobClassifySentiment = "classify_sentiment"

// Enqueuer accepts background jobs without blocking.
type Enqueuer interface {
	Enqueue(job jobs.Job) error
}

// ItemOutcome is the per-record result of a batch transition.
type ItemOutcome string

const (
	OutcomeModified ItemOutcome = "modified"
	OutcomeNotFound ItemOutcome = "not_found"
	OutcomeRejected ItemOutcome = "rejected"
	OutcomeConflict ItemOutcome = "conflict"
	OutcomeError    ItemOutcome = "error"
)

// BatchItem reports what happened to one requested id.
type BatchItem struct {
	ID      string      `json:"id"`
	Outcome ItemOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// BatchResult summarises a transition call. ModifiedCount is authoritative.
type BatchResult struct {
	Transition    domain.Transition `json:"transition"`
	Requested     int               `json:"requested"`
	ModifiedCount int               `json:"modifiedCount"`
	Items         []BatchItem       `json:"items"`
}

// ModifiedIDs lists the ids the call changed.
func (r *BatchResult) ModifiedIDs() []string {
	var ids []string
	for _, item := range r.Items {
		if item.Outcome == OutcomeModified {
			ids = append(ids, item.ID)
		}
	}
	return ids
}

// SubmitInput is a validated intake submission.
type SubmitInput struct {
	Category       domain.Category
	FeedbackType   string
	Department     string
	Description    string
	Rating         *int
	ImpactSeverity *domain.ImpactSeverity
	IsAnonymous    bool
	Contact        domain.Contact
}

// TransitionInput carries the optional payload of a transition. Which fields
// are required depends on the transition.
type TransitionInput struct {
	Department             *string
	ReportDetails          *string
	FinalActionDescription *string
	RevisionNotes          *string
	AdminNotes             *string
}

// EditInput is a direct correction of a single record.
type EditInput struct {
	Description   *string
	FeedbackType  *string
	Department    *string
	Sentiment     *domain.Sentiment
	ReportDetails *string
}

// LifecycleService is the engine owning record creation and every state change.
type LifecycleService struct {
	router      *repository.Router
	departments domain.Departments
	dispatcher  events.Dispatcher
	queue       Enqueuer
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// LifecycleDependencies bundles collaborators of the lifecycle service.
type LifecycleDependencies struct {
	Router      *repository.Router
	Departments domain.Departments
	Dispatcher  events.Dispatcher
	Queue       Enqueuer
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// NewLifecycleService constructs the service.
func NewLifecycleService(deps LifecycleDependencies) *LifecycleService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &LifecycleService{
		router:      deps.Router,
		departments: deps.Departments,
		dispatcher:  deps.Dispatcher,
		queue:       deps.Queue,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
}

// Submit creates a record in the partition its category belongs to and queues
// its classification.
func (s *LifecycleService) Submit(ctx context.Context, input SubmitInput) (rec *domain.FeedbackRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle", "submit", attribute.String("category", string(input.Category)))
	defer observability.FinishSpan(span, &err)

	rec, err = s.buildRecord(input)
	if err != nil {
		return nil, err
	}
	repo, err := s.router.For(rec.ID)
	if err != nil {
		return nil, err
	}
	if err = repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create feedback: %w", err)
	}
	s.logger.Info("feedback submitted",
		zap.String("feedback_id", rec.ID),
		zap.String("partition", string(repo.Partition())),
		zap.String("category", string(rec.Category)))

	s.enqueueClassification(rec.ID)
	s.publish(ctx, events.Event{
		Type:       events.EventFeedbackSubmitted,
		FeedbackID: rec.ID,
		Timestamp:  rec.CreatedAt,
		Payload:    events.SubmittedPayload{Record: *rec},
	})
	return rec, nil
}

func (s *LifecycleService) buildRecord(input SubmitInput) (*domain.FeedbackRecord, error) {
	partition, ok := input.Category.Partition()
	if !ok {
		return nil, apperrors.NewValidationError("unknown category", map[string]any{"category": input.Category})
	}
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, apperrors.NewValidationError("description is required", nil)
	}

	switch partition {
	case domain.PartitionExternal:
		if input.Rating == nil || *input.Rating < 1 || *input.Rating > 5 {
			return nil, apperrors.NewValidationError("rating between 1 and 5 is required", nil)
		}
		if input.ImpactSeverity != nil {
			return nil, apperrors.NewValidationError("impactSeverity applies to staff feedback only", nil)
		}
	case domain.PartitionInternal:
		if input.ImpactSeverity == nil || !input.ImpactSeverity.Valid() {
			return nil, apperrors.NewValidationError("valid impactSeverity is required", nil)
		}
		if input.Rating != nil {
			return nil, apperrors.NewValidationError("rating applies to patient and visitor feedback only", nil)
		}
	}

	department := strings.TrimSpace(input.Department)
	if canonical, ok := s.departments.Resolve(department); ok {
		department = canonical
	}

	now := s.now().UTC()
	rec := &domain.FeedbackRecord{
		ID:              partition.NewID(),
		Category:        input.Category,
		FeedbackType:    strings.TrimSpace(input.FeedbackType),
		Department:      department,
		Description:     description,
		Rating:          copyInt(input.Rating),
		IsAnonymous:     input.IsAnonymous,
		SentimentStatus: domain.SentimentStatusPending,
		Status:          domain.StatusPending,
		ActionHistory:   []domain.AuditEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if input.ImpactSeverity != nil {
		severity := *input.ImpactSeverity
		rec.ImpactSeverity = &severity
	}
	if !input.IsAnonymous {
		rec.Contact = domain.Contact{
			Name:  trimmed(input.Contact.Name),
			Email: trimmed(input.Contact.Email),
			Phone: trimmed(input.Contact.Phone),
		}
	}
	return rec, nil
}

func (s *LifecycleService) enqueueClassification(id string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(jobs.Job{ID: id, Type: JobClassifySentiment}); err != nil {
		s.logger.Warn("classification not queued; left for retry sweep",
			zap.String("feedback_id", id), zap.Error(err))
	}
}

// Transition applies t to every id independently. Payload and role problems
// reject the whole call before any record is touched; per-record problems
// are reported in the result.
func (s *LifecycleService) Transition(ctx context.Context, actor domain.Principal, t domain.Transition, ids []string, input TransitionInput) (result *BatchResult, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle", "transition",
		attribute.String("transition", string(t)),
		attribute.Int("ids", len(ids)))
	defer observability.FinishSpan(span, &err)

	if !t.Valid() {
		return nil, apperrors.NewValidationError("unknown transition", map[string]any{"transition": t})
	}
	if actor.Role != t.Role() {
		return nil, apperrors.NewForbidden(fmt.Sprintf("%s requires the %s role", t, t.Role()))
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, apperrors.NewValidationError("at least one id is required", nil)
	}
	payload, err := s.validateTransitionInput(t, input)
	if err != nil {
		return nil, err
	}

	result = &BatchResult{Transition: t, Requested: len(ids), Items: make([]BatchItem, 0, len(ids))}
	var target domain.State
	var lastChanges map[string]any
	var lastDepartment string
	var storeErr error
	for _, id := range ids {
		item, state, department, changes, itemErr := s.transitionOne(ctx, actor, t, id, payload)
		result.Items = append(result.Items, item)
		s.metrics.RecordTransition(string(t), string(item.Outcome))
		if item.Outcome == OutcomeModified {
			result.ModifiedCount++
			target, lastChanges, lastDepartment = state, changes, department
		}
		if itemErr != nil {
			storeErr = itemErr
		}
	}
	if len(ids) == 1 && storeErr != nil {
		return nil, storeErr
	}

	at := s.now().UTC()
	switch {
	case result.ModifiedCount == 0:
	case len(ids) == 1:
		s.publish(ctx, events.Event{
			Type:       events.EventFeedbackTransitioned,
			FeedbackID: ids[0],
			Actor:      actor.ActorName,
			Timestamp:  at,
			Payload: events.TransitionedPayload{
				Transition: t,
				State:      target,
				Department: lastDepartment,
				Changes:    lastChanges,
			},
		})
	default:
		s.publish(ctx, events.Event{
			Type:      events.EventFeedbackBulkTransitioned,
			Actor:     actor.ActorName,
			Timestamp: at,
			Payload: events.BulkTransitionedPayload{
				Transition:    t,
				State:         target,
				IDs:           result.ModifiedIDs(),
				ChangedFields: append(changedFields(lastChanges), "actionHistory", "updatedAt"),
			},
		})
	}
	return result, nil
}

func (s *LifecycleService) transitionOne(ctx context.Context, actor domain.Principal, t domain.Transition, id string, payload TransitionInput) (BatchItem, domain.State, string, map[string]any, error) {
	item := BatchItem{ID: id}
	repo, err := s.router.For(id)
	if err != nil {
		item.Outcome, item.Reason = OutcomeNotFound, "unknown id prefix"
		return item, 0, "", nil, nil
	}
	rec, err := repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		item.Outcome, item.Reason = OutcomeNotFound, "record not found"
		return item, 0, "", nil, nil
	}
	if err != nil {
		item.Outcome, item.Reason = OutcomeError, "store unavailable"
		s.logger.Error("load feedback failed", zap.String("feedback_id", id), zap.Error(err))
		return item, 0, "", nil, fmt.Errorf("load %s: %w", id, err)
	}
	from, err := rec.State()
	if err != nil {
		item.Outcome, item.Reason = OutcomeError, err.Error()
		return item, 0, "", nil, nil
	}
	if actor.Role == domain.RoleDepartment && rec.Department != actor.Department {
		item.Outcome, item.Reason = OutcomeRejected, "record belongs to another department"
		return item, 0, "", nil, nil
	}
	if t == domain.TransitionRestore && from == domain.StateUnassigned {
		item.Outcome, item.Reason = OutcomeRejected, "already unassigned"
		return item, 0, "", nil, nil
	}
	to, err := from.Apply(t)
	if err != nil {
		item.Outcome = OutcomeRejected
		if errors.Is(err, domain.ErrRecordClosed) {
			item.Reason = "record closed"
		} else {
			item.Reason = fmt.Sprintf("%s not allowed from %s", t, from)
		}
		return item, 0, "", nil, nil
	}

	at := auditTime(s.now(), rec)
	patch, changes := buildTransitionPatch(t, to, payload, at)
	department := rec.Department
	if patch.Department != nil {
		department = *patch.Department
	}
	entry := domain.AuditEntry{
		Action:    t.AuditAction(),
		ActorName: actor.ActorName,
		Timestamp: at,
		Details:   transitionDetails(from, to, changes),
	}
	applied, err := repo.ApplyTransition(ctx, id, from, patch, entry)
	if err != nil {
		item.Outcome, item.Reason = OutcomeError, "store unavailable"
		s.logger.Error("apply transition failed",
			zap.String("feedback_id", id),
			zap.String("transition", string(t)),
			zap.Error(err))
		return item, 0, "", nil, fmt.Errorf("apply %s to %s: %w", t, id, err)
	}
	if !applied {
		item.Outcome, item.Reason = OutcomeConflict, "record changed concurrently"
		return item, 0, "", nil, nil
	}

	s.logger.Info("feedback transitioned",
		zap.String("feedback_id", id),
		zap.String("transition", string(t)),
		zap.String("actor", actor.ActorName),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	item.Outcome = OutcomeModified
	return item, to, department, changes, nil
}

func (s *LifecycleService) validateTransitionInput(t domain.Transition, input TransitionInput) (TransitionInput, error) {
	out := TransitionInput{
		Department:             trimmed(input.Department),
		ReportDetails:          trimmed(input.ReportDetails),
		FinalActionDescription: trimmed(input.FinalActionDescription),
		RevisionNotes:          trimmed(input.RevisionNotes),
		AdminNotes:             trimmed(input.AdminNotes),
	}
	var missing []string
	need := func(name string, value *string) {
		if value == nil {
			missing = append(missing, name)
		}
	}
	switch t {
	case domain.TransitionAssignReport, domain.TransitionEscalateToAdmin:
		need("department", out.Department)
		need("reportDetails", out.ReportDetails)
	case domain.TransitionProposeAction, domain.TransitionTakeOwnApprove:
		need("finalActionDescription", out.FinalActionDescription)
	case domain.TransitionRequestRevision:
		need("revisionNotes", out.RevisionNotes)
	case domain.TransitionAssignToDepartment:
		need("department", out.Department)
		need("adminNotes", out.AdminNotes)
	}
	if len(missing) > 0 {
		return out, apperrors.NewValidationError("missing transition payload", map[string]any{"missing": missing})
	}
	if out.Department != nil && needsDepartment(t) {
		canonical, ok := s.departments.Resolve(*out.Department)
		if !ok {
			return out, apperrors.NewValidationError("invalid target department", map[string]any{"department": *out.Department})
		}
		out.Department = &canonical
	}
	return out, nil
}

func needsDepartment(t domain.Transition) bool {
	switch t {
	case domain.TransitionAssignReport, domain.TransitionEscalateToAdmin, domain.TransitionAssignToDepartment:
		return true
	}
	return false
}

func buildTransitionPatch(t domain.Transition, to domain.State, in TransitionInput, at time.Time) (repository.TransitionPatch, map[string]any) {
	patch := repository.TransitionPatch{To: to, UpdatedAt: at}
	changes := map[string]any{
		"status":     to.Status(),
		"deptStatus": to.DeptStatus().Ptr(),
	}
	switch t {
	case domain.TransitionAssignReport, domain.TransitionEscalateToAdmin:
		patch.Department = in.Department
		patch.ReportDetails = in.ReportDetails
		patch.ReportCreatedAt = &at
		changes["department"] = *in.Department
		changes["reportDetails"] = *in.ReportDetails
		changes["reportCreatedAt"] = at
	case domain.TransitionProposeAction, domain.TransitionTakeOwnApprove:
		patch.FinalActionDescription = in.FinalActionDescription
		changes["finalActionDescription"] = *in.FinalActionDescription
	case domain.TransitionRequestRevision:
		patch.RevisionNotes = in.RevisionNotes
		changes["revisionNotes"] = *in.RevisionNotes
	case domain.TransitionAssignToDepartment:
		patch.Department = in.Department
		patch.AdminNotes = in.AdminNotes
		changes["department"] = *in.Department
		changes["adminNotes"] = *in.AdminNotes
	}
	return patch, changes
}

func transitionDetails(from, to domain.State, changes map[string]any) map[string]any {
	details := map[string]any{
		"from": from.String(),
		"to":   to.String(),
	}
	for key, value := range changes {
		switch key {
		case "status", "deptStatus", "reportCreatedAt":
			continue
		}
		details[key] = value
	}
	return details
}

// Edit applies a direct correction. It appends one edit entry and never
// changes the composite state.
func (s *LifecycleService) Edit(ctx context.Context, actor domain.Principal, id string, input EditInput) (rec *domain.FeedbackRecord, err error) {
	ctx, span := observability.StartSpan(ctx, "lifecycle", "edit", attribute.String("feedback_id", id))
	defer observability.FinishSpan(span, &err)

	patch, changes, err := s.validateEdit(input)
	if err != nil {
		return nil, err
	}
	repo, err := s.router.For(id)
	if err != nil {
		return nil, apperrors.NewNotFound("feedback record", map[string]any{"id": id})
	}
	current, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Closed() {
		return nil, apperrors.NewRecordClosed(map[string]any{"id": id})
	}
	if actor.Role == domain.RoleDepartment && current.Department != actor.Department {
		return nil, apperrors.NewForbidden("record belongs to another department")
	}

	at := auditTime(s.now(), current)
	patch.UpdatedAt = at
	entry := domain.AuditEntry{
		Action:    domain.ActionEdit,
		ActorName: actor.ActorName,
		Timestamp: at,
		Details:   map[string]any{"changedFields": changedFields(changes), "changes": changes},
	}
	applied, err := repo.ApplyEdit(ctx, id, patch, entry)
	if err != nil {
		return nil, fmt.Errorf("edit %s: %w", id, err)
	}
	if !applied {
		return nil, apperrors.NewRecordClosed(map[string]any{"id": id})
	}

	rec, err = repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	state, _ := rec.State()
	s.logger.Info("feedback edited",
		zap.String("feedback_id", id),
		zap.String("actor", actor.ActorName),
		zap.Strings("fields", changedFields(changes)))
	s.publish(ctx, events.Event{
		Type:       events.EventFeedbackEdited,
		FeedbackID: id,
		Actor:      actor.ActorName,
		Timestamp:  at,
		Payload:    events.EditedPayload{State: state, Department: rec.Department, Changes: changes},
	})
	return rec, nil
}

func (s *LifecycleService) validateEdit(input EditInput) (repository.EditPatch, map[string]any, error) {
	patch := repository.EditPatch{
		Description:   trimmed(input.Description),
		FeedbackType:  trimmed(input.FeedbackType),
		ReportDetails: trimmed(input.ReportDetails),
	}
	if input.Description != nil && patch.Description == nil {
		return patch, nil, apperrors.NewValidationError("description cannot be empty", nil)
	}
	if input.Department != nil {
		canonical, ok := s.departments.Resolve(*input.Department)
		if !ok {
			return patch, nil, apperrors.NewValidationError("invalid target department", map[string]any{"department": *input.Department})
		}
		patch.Department = &canonical
	}
	if input.Sentiment != nil {
		if !input.Sentiment.Valid() {
			return patch, nil, apperrors.NewValidationError("invalid sentiment", map[string]any{"sentiment": *input.Sentiment})
		}
		sentiment := *input.Sentiment
		patch.Sentiment = &sentiment
	}
	if patch.Empty() {
		return patch, nil, apperrors.NewValidationError("no fields to update", nil)
	}

	changes := map[string]any{}
	if patch.Description != nil {
		changes["description"] = *patch.Description
	}
	if patch.FeedbackType != nil {
		changes["feedbackType"] = *patch.FeedbackType
	}
	if patch.Department != nil {
		changes["department"] = *patch.Department
	}
	if patch.Sentiment != nil {
		changes["sentiment"] = *patch.Sentiment
		changes["sentimentStatus"] = domain.SentimentStatusCompleted
	}
	if patch.ReportDetails != nil {
		changes["reportDetails"] = *patch.ReportDetails
	}
	return patch, changes, nil
}

func (s *LifecycleService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := s.dispatcher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("event_type", string(event.Type)),
			zap.String("feedback_id", event.FeedbackID),
			zap.Error(err))
	}
}

// auditTime keeps a record's history ordered even if the clock steps back.
func auditTime(now time.Time, rec *domain.FeedbackRecord) time.Time {
	now = now.UTC()
	if last := rec.LastAuditAt(); now.Before(last) {
		return last
	}
	return now
}
