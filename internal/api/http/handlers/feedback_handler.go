package handlers

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/api/dto"
	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/crosstab"
	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/service"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

// FeedbackHandler exposes submission, review and dashboard endpoints.
type FeedbackHandler struct {
	lifecycle *service.LifecycleService
	queries   *service.QueryService
	tabs      *crosstab.Bus
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewFeedbackHandler constructs handler. tabs may be nil.
func NewFeedbackHandler(lifecycle *service.LifecycleService, queries *service.QueryService, tabs *crosstab.Bus, validate *validator.Validate, logger *zap.Logger) *FeedbackHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackHandler{lifecycle: lifecycle, queries: queries, tabs: tabs, validate: validate, logger: logger}
}

// Submit POST /feedback.
func (h *FeedbackHandler) Submit(c *fiber.Ctx) error {
	var req dto.SubmitFeedbackRequest
	if err := parseBody(c, h.validate, &req); err != nil {
		return err
	}
	input := service.SubmitInput{
		Category:       req.Category,
		FeedbackType:   req.FeedbackType,
		Department:     req.Department,
		Description:    req.Description,
		Rating:         req.Rating,
		ImpactSeverity: req.ImpactSeverity,
		IsAnonymous:    req.IsAnonymous,
	}
	if req.Contact != nil {
		input.Contact = domain.Contact{Name: req.Contact.Name, Email: req.Contact.Email, Phone: req.Contact.Phone}
	}
	rec, err := h.lifecycle.Submit(c.UserContext(), input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": rec})
}

// Transition POST /feedback/transitions/:transition.
func (h *FeedbackHandler) Transition(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TransitionRequest
	if err := parseBody(c, h.validate, &req); err != nil {
		return err
	}
	t := domain.Transition(c.Params("transition"))
	result, err := h.lifecycle.Transition(c.UserContext(), *principal, t, req.IDs, service.TransitionInput{
		Department:             req.Department,
		ReportDetails:          req.ReportDetails,
		FinalActionDescription: req.FinalActionDescription,
		RevisionNotes:          req.RevisionNotes,
		AdminNotes:             req.AdminNotes,
	})
	if err != nil {
		return err
	}
	if req.OriginTab != "" && result.ModifiedCount > 0 {
		h.announce(c, principal.ActorName, req.OriginTab, string(t), result.ModifiedIDs())
	}
	return c.JSON(fiber.Map{"data": result})
}

func (h *FeedbackHandler) announce(c *fiber.Ctx, operator, tab, action string, ids []string) {
	if h.tabs == nil {
		return
	}
	_, err := h.tabs.Announce(c.UserContext(), crosstab.Announcement{Operator: operator, OriginTab: tab, ActionType: action, IDs: ids})
	if err != nil {
		h.logger.Warn("tab announcement failed", zap.String("actor", operator), zap.Error(err))
	}
}

// Edit PATCH /feedback/:id.
func (h *FeedbackHandler) Edit(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.EditFeedbackRequest
	if err := parseBody(c, h.validate, &req); err != nil {
		return err
	}
	rec, err := h.lifecycle.Edit(c.UserContext(), *principal, c.Params("id"), service.EditInput{
		Description:   req.Description,
		FeedbackType:  req.FeedbackType,
		Department:    req.Department,
		Sentiment:     req.Sentiment,
		ReportDetails: req.ReportDetails,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rec})
}

// List GET /feedback.
func (h *FeedbackHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var q dto.FeedbackListQuery
	if err := parseQuery(c, h.validate, &q); err != nil {
		return err
	}
	query := toListQuery(q)
	items, err := h.queries.List(c.UserContext(), *principal, query)
	if err != nil {
		return err
	}
	limit, offset := query.Page()
	return c.JSON(fiber.Map{"data": dto.ListResponse{Items: items, Limit: limit, Offset: offset}})
}

// Get GET /feedback/:id.
func (h *FeedbackHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	rec, err := h.queries.Get(c.UserContext(), *principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": rec})
}

// History GET /feedback/:id/history.
func (h *FeedbackHandler) History(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	entries, err := h.queries.History(c.UserContext(), *principal, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": entries})
}

func toListQuery(q dto.FeedbackListQuery) service.ListQuery {
	query := service.ListQuery{Limit: q.Limit, Offset: q.Offset}
	if q.Partition != "" {
		p := domain.Partition(q.Partition)
		query.Partition = &p
	}
	if q.Status != "" {
		s := domain.Status(q.Status)
		query.Status = &s
	}
	if q.DeptStatus != "" {
		d := domain.DeptStatus(q.DeptStatus)
		if q.DeptStatus == "none" {
			d = domain.DeptStatusNone
		}
		query.DeptStatus = &d
	}
	if q.Department != "" {
		dept := q.Department
		query.Department = &dept
	}
	if q.Sentiment != "" {
		s := domain.Sentiment(q.Sentiment)
		query.Sentiment = &s
	}
	if q.SentimentStatus != "" {
		s := domain.SentimentStatus(q.SentimentStatus)
		query.SentimentStatus = &s
	}
	return query
}
