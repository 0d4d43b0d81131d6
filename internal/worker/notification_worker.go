package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/fanout"
	"github.com/spec-kit/feedback-service/internal/service"
)

// StartNotificationWorker registers the fan-out event handlers and relays the
// bus to the local viewer hub until ctx ends.
func StartNotificationWorker(ctx context.Context, notificationService *service.NotificationService, hub *fanout.Hub, bus fanout.Bus, logger *zap.Logger) {
	if notificationService != nil {
		notificationService.RegisterHandlers()
	}
	if hub == nil || bus == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	go func() {
		if err := hub.Run(ctx, bus); err != nil {
			logger.Error("viewer hub stopped", zap.Error(err))
		}
	}()
}
