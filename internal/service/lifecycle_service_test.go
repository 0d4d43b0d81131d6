package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/feedback-service/internal/crosstab"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/repository"
	"github.com/spec-kit/feedback-service/internal/sentiment"
	"github.com/spec-kit/feedback-service/pkg/jobs"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

var (
	intake = domain.Principal{ActorName: "ivy", Role: domain.RoleIntake}
	cardio = domain.Principal{ActorName: "dana", Role: domain.RoleDepartment, Department: "Cardiology"}
	admin  = domain.Principal{ActorName: "ada", Role: domain.RoleAdmin}
)

// stepClock advances one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []fanout.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg fanout.Message) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return true, nil
}

func (p *recordingPublisher) messages() []fanout.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]fanout.Message(nil), p.msgs...)
}

type fixture struct {
	external  *repository.MemoryRepository
	internal  *repository.MemoryRepository
	router    *repository.Router
	lifecycle *LifecycleService
	query     *QueryService
	published *recordingPublisher
	clock     *stepClock
}

func newFixture(t *testing.T, repos ...repository.FeedbackRepository) *fixture {
	t.Helper()
	f := &fixture{
		external:  repository.NewMemoryRepository(domain.PartitionExternal, nil),
		internal:  repository.NewMemoryRepository(domain.PartitionInternal, nil),
		published: &recordingPublisher{},
		clock:     newStepClock(),
	}
	if len(repos) == 0 {
		repos = []repository.FeedbackRepository{f.external, f.internal}
	}
	router, err := repository.NewRouter(repos...)
	require.NoError(t, err)
	f.router = router

	dispatcher := events.NewInMemoryDispatcher(nil)
	NewNotificationService(dispatcher, f.published, nil).RegisterHandlers()
	f.lifecycle = NewLifecycleService(LifecycleDependencies{
		Router:      router,
		Departments: domain.NewDepartments([]string{"Cardiology", "Radiology", "Emergency"}),
		Dispatcher:  dispatcher,
		Now:         f.clock.Now,
	})
	f.query = NewQueryService(router)
	return f
}

func (f *fixture) seed(t *testing.T, id string, state domain.State, department string) {
	t.Helper()
	repo, err := f.router.For(id)
	require.NoError(t, err)
	rating := 3
	rec := &domain.FeedbackRecord{
		ID:              id,
		Category:        domain.CategoryPatient,
		Department:      department,
		Description:     "seeded",
		Rating:          &rating,
		SentimentStatus: domain.SentimentStatusPending,
		Status:          state.Status(),
		DeptStatus:      state.DeptStatus().Ptr(),
		CreatedAt:       f.clock.Now(),
	}
	if id[:4] == "int-" {
		severity := domain.ImpactMinor
		rec.Category, rec.Rating, rec.ImpactSeverity = domain.CategoryStaff, nil, &severity
	}
	require.NoError(t, repo.Create(context.Background(), rec))
}

func (f *fixture) get(t *testing.T, id string) *domain.FeedbackRecord {
	t.Helper()
	rec, err := f.router.GetByID(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func (f *fixture) state(t *testing.T, id string) domain.State {
	t.Helper()
	state, err := f.get(t, id).State()
	require.NoError(t, err)
	return state
}

func strPtr(s string) *string { return &s }

func errorCode(err error) string {
	return apperrors.ToDomainError(err).Code
}

type stubClassifier struct {
	verdict domain.Sentiment
	err     error
	calls   int
	mu      sync.Mutex
}

func (c *stubClassifier) Classify(context.Context, string, sentiment.Hints) (domain.Sentiment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.verdict, c.err
}

func TestSubmitCreatesPendingRecordAndClassifiesAsync(t *testing.T) {
	f := newFixture(t)
	sentimentSvc := NewSentimentService(SentimentDependencies{
		Router:     f.router,
		Classifier: &stubClassifier{verdict: domain.SentimentNegative},
	})
	queue := jobs.NewQueue("classification", sentimentSvc.HandleJob, jobs.QueueConfig{Workers: 1})
	queue.Start(context.Background())
	defer queue.Stop()
	f.lifecycle.queue = queue

	rating := 1
	rec, err := f.lifecycle.Submit(context.Background(), SubmitInput{
		Category:    domain.CategoryPatient,
		Department:  "emergency",
		Description: "long wait",
		Rating:      &rating,
		Contact:     domain.Contact{Name: strPtr("Sam")},
	})
	require.NoError(t, err)
	require.Contains(t, rec.ID, "ext-")
	require.Equal(t, domain.StatusPending, rec.Status)
	require.Nil(t, rec.DeptStatus)
	require.Equal(t, domain.SentimentStatusPending, rec.SentimentStatus)
	require.Equal(t, "Emergency", rec.Department)
	require.Equal(t, "Sam", *rec.Contact.Name)
	require.Empty(t, rec.ActionHistory)

	require.Eventually(t, func() bool {
		stored, err := f.router.GetByID(context.Background(), rec.ID)
		return err == nil && stored.SentimentStatus == domain.SentimentStatusCompleted
	}, time.Second, 5*time.Millisecond)
	stored := f.get(t, rec.ID)
	require.Equal(t, domain.SentimentNegative, *stored.Sentiment)
	require.Equal(t, 1, stored.SentimentAttempts)

	msgs := f.published.messages()
	require.NotEmpty(t, msgs)
	require.Equal(t, fanout.ReasonSubmitted, msgs[0].Reason)
}

func TestSubmitAnonymousDropsContact(t *testing.T) {
	f := newFixture(t)
	severity := domain.ImpactCritical
	rec, err := f.lifecycle.Submit(context.Background(), SubmitInput{
		Category:       domain.CategoryStaff,
		Description:    "broken lift",
		ImpactSeverity: &severity,
		IsAnonymous:    true,
		Contact:        domain.Contact{Name: strPtr("Sam"), Email: strPtr("sam@example.org")},
	})
	require.NoError(t, err)
	require.Contains(t, rec.ID, "int-")
	stored := f.get(t, rec.ID)
	require.Nil(t, stored.Contact.Name)
	require.Nil(t, stored.Contact.Email)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	rating := 9
	severity := domain.ImpactMinor
	cases := map[string]SubmitInput{
		"unknown category":    {Category: "robot", Description: "x"},
		"missing description": {Category: domain.CategoryVisitor, Description: "  ", Rating: &rating},
		"rating out of range": {Category: domain.CategoryVisitor, Description: "x", Rating: &rating},
		"staff without level": {Category: domain.CategoryStaff, Description: "x"},
		"visitor with level":  {Category: domain.CategoryVisitor, Description: "x", ImpactSeverity: &severity},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.lifecycle.Submit(context.Background(), input)
			require.Error(t, err)
			require.Equal(t, apperrors.CodeValidation, errorCode(err))
		})
	}
}

func TestReviewCycleWithRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "ext-b"
	f.seed(t, id, domain.StateUnassigned, "Emergency")

	steps := []struct {
		actor domain.Principal
		t     domain.Transition
		input TransitionInput
		want  domain.State
	}{
		{intake, domain.TransitionAssignReport, TransitionInput{Department: strPtr("Cardiology"), ReportDetails: strPtr("triage delays")}, domain.StateAssignedNeedsAction},
		{cardio, domain.TransitionProposeAction, TransitionInput{FinalActionDescription: strPtr("Fixed triage signage")}, domain.StateAssignedProposed},
		{admin, domain.TransitionRequestRevision, TransitionInput{RevisionNotes: strPtr("add timeline")}, domain.StateAssignedNeedRevision},
		{cardio, domain.TransitionProposeAction, TransitionInput{FinalActionDescription: strPtr("Signage fixed by June")}, domain.StateAssignedProposed},
		{admin, domain.TransitionApprove, TransitionInput{}, domain.StateAssignedApproved},
	}
	for _, step := range steps {
		res, err := f.lifecycle.Transition(ctx, step.actor, step.t, []string{id}, step.input)
		require.NoError(t, err, step.t)
		require.Equal(t, 1, res.ModifiedCount, step.t)
		require.Equal(t, step.want, f.state(t, id), step.t)
	}

	rec := f.get(t, id)
	require.Equal(t, "Cardiology", rec.Department)
	require.Equal(t, "Signage fixed by June", *rec.FinalActionDescription)
	require.Equal(t, "add timeline", *rec.RevisionNotes)
	require.NotNil(t, rec.ReportCreatedAt)
	require.Len(t, rec.ActionHistory, len(steps))
	for i := 1; i < len(rec.ActionHistory); i++ {
		require.True(t, rec.ActionHistory[i].Timestamp.After(rec.ActionHistory[i-1].Timestamp))
	}
	require.Equal(t, domain.ActionApprove, rec.ActionHistory[4].Action)
	require.Equal(t, "ada", rec.ActionHistory[4].ActorName)

	res, err := f.lifecycle.Transition(ctx, intake, domain.TransitionTagSpam, []string{id}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, 0, res.ModifiedCount)
	require.Equal(t, OutcomeRejected, res.Items[0].Outcome)
	require.Equal(t, "record closed", res.Items[0].Reason)
	require.Len(t, f.get(t, id).ActionHistory, len(steps))

	msgs := f.published.messages()
	require.Len(t, msgs, len(steps))
	last := msgs[len(msgs)-1]
	require.Equal(t, fanout.KindDelta, last.Kind)
	require.Equal(t, domain.DeptStatusApproved, last.DeptStatus)
	require.Equal(t, "Cardiology", last.Department)
}

func TestBulkTagSpamReportsModifiedCount(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ext-1", domain.StatePending, "Emergency")
	f.seed(t, "int-3", domain.StateUnassigned, "Pharmacy")

	res, err := f.lifecycle.Transition(context.Background(), intake, domain.TransitionTagSpam,
		[]string{"ext-1", "ext-2", "int-3"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, 3, res.Requested)
	require.Equal(t, 2, res.ModifiedCount)
	require.Equal(t, OutcomeNotFound, res.Items[1].Outcome)
	require.Equal(t, domain.StateSpam, f.state(t, "ext-1"))
	require.Equal(t, domain.StateSpam, f.state(t, "int-3"))

	msgs := f.published.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, fanout.KindHint, msgs[0].Kind)
	require.Equal(t, []string{"ext-1", "int-3"}, msgs[0].IDs)
	require.Contains(t, msgs[0].ChangedFields, "status")
}

func TestRestoreIsNotReapplied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "ext-s", domain.StateSpam, "")

	res, err := f.lifecycle.Transition(ctx, intake, domain.TransitionRestore, []string{"ext-s"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, 1, res.ModifiedCount)
	require.Equal(t, domain.StateUnassigned, f.state(t, "ext-s"))

	res, err = f.lifecycle.Transition(ctx, intake, domain.TransitionRestore, []string{"ext-s"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, 0, res.ModifiedCount)
	require.Equal(t, "already unassigned", res.Items[0].Reason)
	require.Len(t, f.get(t, "ext-s").ActionHistory, 1)
}

func TestTransitionValidationLeavesRecordUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "ext-v", domain.StateUnassigned, "")

	_, err := f.lifecycle.Transition(ctx, intake, domain.TransitionAssignReport, []string{"ext-v"},
		TransitionInput{Department: strPtr("Cardiology"), ReportDetails: strPtr("   ")})
	require.Equal(t, apperrors.CodeValidation, errorCode(err))

	_, err = f.lifecycle.Transition(ctx, intake, domain.TransitionEscalateToAdmin, []string{"ext-v"},
		TransitionInput{Department: strPtr("Astrology"), ReportDetails: strPtr("x")})
	require.Equal(t, apperrors.CodeValidation, errorCode(err))

	_, err = f.lifecycle.Transition(ctx, intake, domain.TransitionTagSpam, nil, TransitionInput{})
	require.Equal(t, apperrors.CodeValidation, errorCode(err))

	_, err = f.lifecycle.Transition(ctx, cardio, domain.TransitionApprove, []string{"ext-v"}, TransitionInput{})
	require.Equal(t, apperrors.CodeForbidden, errorCode(err))

	rec := f.get(t, "ext-v")
	require.Equal(t, domain.StatusUnassigned, rec.Status)
	require.Empty(t, rec.ActionHistory)
	require.Empty(t, f.published.messages())
}

func TestInvalidTransitionIsRejectedPerItem(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ext-p", domain.StatePending, "Cardiology")
	f.seed(t, "ext-r", domain.StateAssignedNeedsAction, "Radiology")

	res, err := f.lifecycle.Transition(context.Background(), admin, domain.TransitionApprove, []string{"ext-p"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, res.Items[0].Outcome)

	res, err = f.lifecycle.Transition(context.Background(), cardio, domain.TransitionMarkNoAction, []string{"ext-r"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, res.Items[0].Outcome)
	require.Equal(t, domain.StateAssignedNeedsAction, f.state(t, "ext-r"))
}

// casLosingRepository simulates another writer committing first.
type casLosingRepository struct {
	*repository.MemoryRepository
}

func (r casLosingRepository) ApplyTransition(context.Context, string, domain.State, repository.TransitionPatch, domain.AuditEntry) (bool, error) {
	return false, nil
}

func TestLostCompareAndSetIsConflict(t *testing.T) {
	external := casLosingRepository{repository.NewMemoryRepository(domain.PartitionExternal, nil)}
	f := newFixture(t, external, repository.NewMemoryRepository(domain.PartitionInternal, nil))
	f.seed(t, "ext-c", domain.StatePending, "")

	res, err := f.lifecycle.Transition(context.Background(), intake, domain.TransitionTagSpam, []string{"ext-c"}, TransitionInput{})
	require.NoError(t, err)
	require.Equal(t, 0, res.ModifiedCount)
	require.Equal(t, OutcomeConflict, res.Items[0].Outcome)
	require.Empty(t, f.published.messages())
}

func TestConcurrentTabsProduceOneMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "ext-e"
	f.seed(t, id, domain.StateAssignedNeedsAction, "Cardiology")

	clock := &fakeNow{now: time.Now()}
	tabs := crosstab.NewBus(fanout.NewMemorySuppressor(time.Second, clock.Now), nil)
	tabA, closeA := tabs.Subscribe(cardio.ActorName, "tab-a")
	defer closeA()
	tabB, closeB := tabs.Subscribe(cardio.ActorName, "tab-b")
	defer closeB()

	var wg sync.WaitGroup
	results := make([]*BatchResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.lifecycle.Transition(ctx, cardio, domain.TransitionMarkNoAction, []string{id}, TransitionInput{})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, 1, results[0].ModifiedCount+results[1].ModifiedCount)
	require.Len(t, f.get(t, id).ActionHistory, 1)
	require.Equal(t, domain.StateAssignedNoAction, f.state(t, id))

	announced, err := tabs.Announce(ctx, crosstab.Announcement{Operator: cardio.ActorName, OriginTab: "tab-a", ActionType: string(domain.TransitionMarkNoAction), IDs: []string{id}})
	require.NoError(t, err)
	require.True(t, announced)
	clock.now = clock.now.Add(200 * time.Millisecond)
	announced, err = tabs.Announce(ctx, crosstab.Announcement{Operator: cardio.ActorName, OriginTab: "tab-b", ActionType: string(domain.TransitionMarkNoAction), IDs: []string{id}})
	require.NoError(t, err)
	require.False(t, announced)
	require.Len(t, tabB.Announcements(), 1)
	require.Len(t, tabA.Announcements(), 0)
}

type fakeNow struct{ now time.Time }

func (c *fakeNow) Now() time.Time { return c.now }

func TestDepartmentCannotActOnOtherDepartments(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ext-o", domain.StateAssignedNeedsAction, "Radiology")
	res, err := f.lifecycle.Transition(context.Background(), cardio, domain.TransitionProposeAction, []string{"ext-o"},
		TransitionInput{FinalActionDescription: strPtr("x")})
	require.NoError(t, err)
	require.Equal(t, OutcomeRejected, res.Items[0].Outcome)
}

func TestEditAppliesCorrections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, "ext-d", domain.StateAssignedNeedsAction, "Cardiology")

	negative := domain.SentimentNegative
	rec, err := f.lifecycle.Edit(ctx, intake, "ext-d", EditInput{Sentiment: &negative, Department: strPtr("radiology")})
	require.NoError(t, err)
	require.Equal(t, domain.SentimentNegative, *rec.Sentiment)
	require.Equal(t, domain.SentimentStatusCompleted, rec.SentimentStatus)
	require.Equal(t, "Radiology", rec.Department)
	require.Equal(t, domain.StatusAssigned, rec.Status)
	require.Len(t, rec.ActionHistory, 1)
	require.Equal(t, domain.ActionEdit, rec.ActionHistory[0].Action)

	msgs := f.published.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, fanout.ReasonEdited, msgs[0].Reason)

	_, err = f.lifecycle.Edit(ctx, intake, "ext-d", EditInput{})
	require.Equal(t, apperrors.CodeValidation, errorCode(err))
	_, err = f.lifecycle.Edit(ctx, intake, "ext-zzz", EditInput{Description: strPtr("x")})
	require.Equal(t, apperrors.CodeNotFound, errorCode(err))
}

func TestEditRejectsClosedRecords(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "ext-x", domain.StateEscalatedApproved, "Cardiology")
	_, err := f.lifecycle.Edit(context.Background(), admin, "ext-x", EditInput{Description: strPtr("typo")})
	require.Equal(t, apperrors.CodeRecordClosed, errorCode(err))
	require.Empty(t, f.get(t, "ext-x").ActionHistory)
}
