package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
	"github.com/spec-kit/feedback-service/internal/events"
	"github.com/spec-kit/feedback-service/internal/fanout"
)

// Publisher emits fan-out messages; *fanout.Notifier implements it.
type Publisher interface {
	Publish(ctx context.Context, msg fanout.Message) (bool, error)
}

// NotificationService turns engine events into fan-out pushes.
type NotificationService struct {
	dispatcher events.Dispatcher
	publisher  Publisher
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, publisher Publisher, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		publisher:  publisher,
		logger:     logger,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || n.publisher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventFeedbackSubmitted, n.handleSubmitted)
	n.dispatcher.Subscribe(events.EventFeedbackTransitioned, n.handleTransitioned)
	n.dispatcher.Subscribe(events.EventFeedbackBulkTransitioned, n.handleBulkTransitioned)
	n.dispatcher.Subscribe(events.EventFeedbackEdited, n.handleEdited)
	n.dispatcher.Subscribe(events.EventSentimentClassified, n.handleSentiment)
	n.dispatcher.Subscribe(events.EventSentimentFailed, n.handleSentiment)
}

func (n *NotificationService) handleSubmitted(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SubmittedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	rec := payload.Record
	return n.push(ctx, fanout.Delta(fanout.SourceDirect, fanout.ReasonSubmitted, rec.ID, domain.StatePending,
		rec.Department, map[string]any{"record": rec}, event.Timestamp))
}

func (n *NotificationService) handleTransitioned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TransitionedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.push(ctx, fanout.Delta(fanout.SourceDirect, fanout.ReasonTransition, event.FeedbackID, payload.State,
		payload.Department, payload.Changes, event.Timestamp))
}

func (n *NotificationService) handleBulkTransitioned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.BulkTransitionedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.push(ctx, fanout.Hint(payload.IDs, payload.ChangedFields, payload.State, event.Timestamp))
}

func (n *NotificationService) handleEdited(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.EditedPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	return n.push(ctx, fanout.Delta(fanout.SourceDirect, fanout.ReasonEdited, event.FeedbackID, payload.State,
		payload.Department, payload.Changes, event.Timestamp))
}

func (n *NotificationService) handleSentiment(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SentimentPayload)
	if !ok {
		return unexpectedPayload(event)
	}
	changes := map[string]any{
		"sentimentStatus":   payload.SentimentStatus,
		"sentimentAttempts": payload.Attempts,
	}
	if payload.Sentiment != nil {
		changes["sentiment"] = *payload.Sentiment
	}
	if payload.Error != "" {
		changes["sentimentError"] = payload.Error
	}
	return n.push(ctx, fanout.Delta(fanout.SourceDirect, fanout.ReasonSentiment, event.FeedbackID, payload.State,
		payload.Department, changes, event.Timestamp))
}

func (n *NotificationService) push(ctx context.Context, msg fanout.Message) error {
	emitted, err := n.publisher.Publish(ctx, msg)
	if err != nil {
		return fmt.Errorf("fan-out %s %s: %w", msg.Kind, msg.Reason, err)
	}
	n.logger.Debug("fan-out",
		zap.String("feedback_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("reason", string(msg.Reason)),
		zap.Bool("emitted", emitted))
	return nil
}

func unexpectedPayload(event events.Event) error {
	return fmt.Errorf("event %s: unexpected payload %T", event.Type, event.Payload)
}
