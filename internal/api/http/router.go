package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/feedback-service/internal/api/http/handlers"
	"github.com/spec-kit/feedback-service/internal/auth"
	"github.com/spec-kit/feedback-service/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Feedback       *handlers.FeedbackHandler
	Sentiment      *handlers.SentimentHandler
	Events         *handlers.EventsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	// Intake form submissions are anonymous.
	app.Post("/feedback", cfg.Feedback.Submit)

	authenticated := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireRole()}

	feedback := app.Group("/feedback", authenticated...)
	feedback.Get("", cfg.Feedback.List)
	feedback.Post("/transitions/:transition", cfg.Feedback.Transition)
	feedback.Get("/:id", cfg.Feedback.Get)
	feedback.Patch("/:id", cfg.Feedback.Edit)
	feedback.Get("/:id/history", cfg.Feedback.History)

	sentiment := app.Group("/sentiment", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	sentiment.Post("/sweep", cfg.Sentiment.Sweep)
	sentiment.Post("/:id/classify", cfg.Sentiment.Classify)

	events := app.Group("/events", authenticated...)
	events.Get("/stream", cfg.Events.Stream)
	events.Post("/tabs", cfg.Events.Announce)
	events.Get("/tabs/stream", cfg.Events.TabStream)
}
