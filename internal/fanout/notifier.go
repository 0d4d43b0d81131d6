package fanout

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/observability"
	"github.com/spec-kit/feedback-service/internal/repository"
)

// Notifier is the single sink for both producers: the direct push made after
// an engine mutation and the store's change feed. State-change deltas are
// claimed in the suppression cache so the slower producer's copy is dropped.
type Notifier struct {
	bus        Bus
	suppressor Suppressor
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// NewNotifier wires a notifier.
func NewNotifier(bus Bus, suppressor Suppressor, metrics *observability.Metrics, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{bus: bus, suppressor: suppressor, metrics: metrics, logger: logger}
}

// Publish emits msg unless another producer already announced the same state
// change within the suppression window. It reports whether msg was emitted.
func (n *Notifier) Publish(ctx context.Context, msg Message) (bool, error) {
	switch {
	case msg.stateChange():
		claimed, err := n.claim(ctx, SuppressionKey(msg.ID, msg.Status, msg.DeptStatus))
		if err != nil {
			return false, err
		}
		if !claimed {
			n.metrics.RecordFanout(string(msg.Source), "suppressed")
			n.logger.Debug("duplicate state change suppressed",
				zap.String("feedback_id", msg.ID),
				zap.String("source", string(msg.Source)))
			return false, nil
		}
	case msg.Kind == KindHint:
		for _, id := range msg.IDs {
			if _, err := n.claim(ctx, SuppressionKey(id, msg.Status, msg.DeptStatus)); err != nil {
				n.logger.Warn("suppression claim failed", zap.String("feedback_id", id), zap.Error(err))
			}
		}
	}

	if err := n.bus.Publish(ctx, msg); err != nil {
		n.metrics.RecordFanout(string(msg.Source), "error")
		return false, err
	}
	n.metrics.RecordFanout(string(msg.Source), "emitted")
	return true, nil
}

// HandleChange turns a change-feed event into a delta. Only externally
// visible states are forwarded; the direct path covers the rest.
func (n *Notifier) HandleChange(ctx context.Context, evt repository.ChangeEvent) (bool, error) {
	state, err := evt.State()
	if err != nil {
		n.logger.Warn("change feed reported unknown state",
			zap.String("feedback_id", evt.ID),
			zap.String("status", string(evt.Status)),
			zap.String("dept_status", string(evt.DeptStatus)))
		return false, nil
	}
	if !state.ExternallyVisible() {
		return false, nil
	}
	msg := Delta(SourceChangeFeed, ReasonStateChange, evt.ID, state, evt.Department, nil, evt.UpdatedAt)
	return n.Publish(ctx, msg)
}

func (n *Notifier) claim(ctx context.Context, key string) (bool, error) {
	if n.suppressor == nil {
		return true, nil
	}
	return n.suppressor.Claim(ctx, key)
}
