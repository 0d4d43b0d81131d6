package handlers

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/feedback-service/pkg/util/errorutil"
)

const readinessTimeout = 2 * time.Second

// Pinger is a dependency readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers the liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	names       []string
	checks      map[string]Pinger
}

// NewHealthHandler probes checks by name, in name order.
func NewHealthHandler(serviceName, version string, checks map[string]Pinger) *HealthHandler {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return &HealthHandler{serviceName: serviceName, version: version, names: names, checks: checks}
}

// Live reports that the process is serving.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready pings every dependency and fails with 503 if any is down.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
	defer cancel()

	status := make(map[string]any, len(h.names))
	healthy := true
	for _, name := range h.names {
		if err := h.checks[name].Ping(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if !healthy {
		return apperrors.NewDependencyUnavailable(status)
	}
	return c.JSON(fiber.Map{"status": "ready", "dependencies": status})
}
