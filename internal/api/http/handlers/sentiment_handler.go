package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/feedback-service/internal/service"
	"github.com/spec-kit/feedback-service/internal/worker"
	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

// Sweeper runs a retry sweep in-process.
type Sweeper interface {
	Sweep(ctx context.Context) (*worker.SweepReport, error)
}

// SentimentHandler exposes admin controls over classification.
type SentimentHandler struct {
	sentiment *service.SentimentService
	sweeper   Sweeper
	// enqueue hands the sweep to the worker process when set.
	enqueue func(ctx context.Context) error
}

// NewSentimentHandler constructs handler. enqueue may be nil when no worker
// process is available.
func NewSentimentHandler(sentiment *service.SentimentService, sweeper Sweeper, enqueue func(ctx context.Context) error) *SentimentHandler {
	return &SentimentHandler{sentiment: sentiment, sweeper: sweeper, enqueue: enqueue}
}

// Sweep POST /sentiment/sweep runs one sweep and returns the per-record
// outcomes. With ?async=true the sweep is queued for the worker instead.
func (h *SentimentHandler) Sweep(c *fiber.Ctx) error {
	if c.QueryBool("async") {
		if h.enqueue == nil {
			return apperrors.NewValidationError("async sweeps need a worker process", nil)
		}
		if err := h.enqueue(c.UserContext()); err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": fiber.Map{"queued": true}})
	}
	report, err := h.sweeper.Sweep(c.UserContext())
	if err != nil && report == nil {
		return err
	}
	body := fiber.Map{"data": report}
	if err != nil {
		body["warning"] = err.Error()
	}
	return c.JSON(body)
}

// Classify POST /sentiment/:id/classify makes one attempt for a record.
func (h *SentimentHandler) Classify(c *fiber.Ctx) error {
	res, err := h.sentiment.ClassifyID(c.UserContext(), c.Params("id"), service.SourceManual)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": res})
}
