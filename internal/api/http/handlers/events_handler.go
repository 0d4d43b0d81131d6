package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/api/dto"
	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/crosstab"
	"github.com/spec-kit/feedback-service/internal/fanout"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

const defaultHeartbeat = 15 * time.Second

// EventsHandler streams live dashboard updates and relays tab announcements.
type EventsHandler struct {
	ctx       context.Context
	hub       *fanout.Hub
	tabs      *crosstab.Bus
	validate  *validator.Validate
	heartbeat time.Duration
	logger    *zap.Logger
}

// NewEventsHandler constructs handler. Streams end when ctx is done.
func NewEventsHandler(ctx context.Context, hub *fanout.Hub, tabs *crosstab.Bus, validate *validator.Validate, logger *zap.Logger) *EventsHandler {
	if validate == nil {
		validate = NewValidator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{ctx: ctx, hub: hub, tabs: tabs, validate: validate, heartbeat: defaultHeartbeat, logger: logger}
}

// Stream GET /events/stream pushes fan-out messages visible to the caller.
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	viewer, unregister := h.hub.Register(*principal)
	actor := principal.ActorName

	setStreamHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unregister()
		err := pump(h.ctx, w, h.heartbeat, viewer.Messages(), func(m fanout.Message) string { return string(m.Kind) })
		h.logger.Debug("viewer stream closed", zap.String("actor", actor), zap.Int64("dropped", viewer.Dropped()), zap.Error(err))
	}))
	return nil
}

// Announce POST /events/tabs.
func (h *EventsHandler) Announce(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.TabAnnouncementRequest
	if err := parseBody(c, h.validate, &req); err != nil {
		return err
	}
	delivered, err := h.tabs.Announce(c.UserContext(), crosstab.Announcement{
		Operator:   principal.ActorName,
		OriginTab:  req.OriginTab,
		ActionType: req.ActionType,
		IDs:        req.IDs,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"delivered": delivered}})
}

// TabStream GET /events/tabs/stream?tab= pushes announcements from the
// caller's other tabs.
func (h *EventsHandler) TabStream(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	tabID := c.Query("tab")
	if tabID == "" {
		return apperrors.NewValidationError("tab required", nil)
	}
	tab, unsubscribe := h.tabs.Subscribe(principal.ActorName, tabID)

	setStreamHeaders(c)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()
		_ = pump(h.ctx, w, h.heartbeat, tab.Announcements(), func(crosstab.Announcement) string { return "announcement" })
	}))
	return nil
}

func setStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

// pump writes items as server-sent events until ch closes, ctx ends or the
// client goes away. Idle periods are filled with comment heartbeats.
func pump[T any](ctx context.Context, w *bufio.Writer, heartbeat time.Duration, ch <-chan T, eventName func(T) string) error {
	if _, err := w.WriteString(": connected\n\n"); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
		case item, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(item)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventName(item), data); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
