package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TaskSentimentSweep runs one retry sweep.
const TaskSentimentSweep = "sentiment:sweep"

// SweepPayload is serialized into the sweep task.
type SweepPayload struct {
	Trigger string `json:"trigger"`
}

// NewSweepTask builds a sweep task. Unique keeps a manual trigger and the
// schedule from queueing the same sweep twice within the interval.
func NewSweepTask(trigger string, interval time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(SweepPayload{Trigger: trigger})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.MaxRetry(0)}
	if interval > 0 {
		opts = append(opts, asynq.Unique(interval), asynq.Timeout(interval))
	}
	return asynq.NewTask(TaskSentimentSweep, data, opts...), nil
}

// EnqueueSweep asks the worker process for an immediate sweep.
func EnqueueSweep(ctx context.Context, client *asynq.Client, trigger string) error {
	task, err := NewSweepTask(trigger, 0)
	if err != nil {
		return err
	}
	if _, err := client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue sweep task: %w", err)
	}
	return nil
}

// RegisterSweepSchedule registers the periodic sweep on scheduler.
func RegisterSweepSchedule(scheduler *asynq.Scheduler, interval time.Duration) (string, error) {
	task, err := NewSweepTask("schedule", interval)
	if err != nil {
		return "", err
	}
	entryID, err := scheduler.Register(fmt.Sprintf("@every %s", interval), task)
	if err != nil {
		return "", fmt.Errorf("register sweep schedule: %w", err)
	}
	return entryID, nil
}

// Handler plugs the retry worker into the asynq server loop.
func (w *SentimentRetryWorker) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskSentimentSweep, w.handleSweep)
	return mux
}

func (w *SentimentRetryWorker) handleSweep(ctx context.Context, task *asynq.Task) error {
	var payload SweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	report, err := w.Sweep(ctx)
	if err != nil {
		w.logger.Warn("sweep task finished with errors", zap.String("trigger", payload.Trigger), zap.Error(err))
		return err
	}
	w.logger.Info("sweep task done", zap.String("trigger", payload.Trigger), zap.Int("items", len(report.Items)))
	return nil
}
