package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/repository"
)

// ChangeHandler receives store change events; *fanout.Notifier implements it.
type ChangeHandler interface {
	HandleChange(ctx context.Context, evt repository.ChangeEvent) (bool, error)
}

// ChangeFeedConsumer forwards the store's change feed to the fan-out sink and
// resubscribes when the feed drops.
type ChangeFeedConsumer struct {
	feed    repository.ChangeFeed
	handler ChangeHandler
	backoff time.Duration
	logger  *zap.Logger
}

// NewChangeFeedConsumer constructs the consumer.
func NewChangeFeedConsumer(feed repository.ChangeFeed, handler ChangeHandler, logger *zap.Logger) *ChangeFeedConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeFeedConsumer{feed: feed, handler: handler, backoff: time.Second, logger: logger}
}

// Run consumes until ctx is cancelled.
func (c *ChangeFeedConsumer) Run(ctx context.Context) error {
	for {
		events, err := c.feed.Watch(ctx)
		if err != nil {
			c.logger.Warn("change feed watch failed", zap.Error(err))
		} else {
			c.consume(ctx, events)
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := sleepContext(ctx, c.backoff); err != nil {
			return nil
		}
		c.logger.Info("resubscribing to change feed")
	}
}

func (c *ChangeFeedConsumer) consume(ctx context.Context, events <-chan repository.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if _, err := c.handler.HandleChange(ctx, evt); err != nil {
				c.logger.Warn("change feed event not delivered",
					zap.String("feedback_id", evt.ID),
					zap.String("partition", string(evt.Partition)),
					zap.Error(err))
			}
		}
	}
}
