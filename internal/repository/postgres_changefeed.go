package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// FeedbackNotifyChannel is the LISTEN channel fed by the feedback tables' trigger.
const FeedbackNotifyChannel = "feedback_changes"

type pgNotification struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	DeptStatus *string   `json:"deptStatus"`
	Department string    `json:"department"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PostgresChangeFeed streams state changes through LISTEN/NOTIFY.
type PostgresChangeFeed struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresChangeFeed builds a feed on a dedicated pooled connection.
func NewPostgresChangeFeed(pool *pgxpool.Pool, logger *zap.Logger) *PostgresChangeFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresChangeFeed{pool: pool, logger: logger}
}

// Watch holds a connection in LISTEN mode until ctx is done.
func (f *PostgresChangeFeed) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+FeedbackNotifyChannel); err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
		defer conn.Release()
		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Error("change feed wait failed", zap.Error(err))
				}
				return
			}
			var payload pgNotification
			if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
				f.logger.Warn("malformed change notification", zap.String("payload", notification.Payload), zap.Error(err))
				continue
			}
			partition, err := domain.PartitionOf(payload.ID)
			if err != nil {
				continue
			}
			evt := ChangeEvent{
				ID:         payload.ID,
				Partition:  partition,
				Status:     domain.Status(payload.Status),
				DeptStatus: domain.DeptStatusFromPtr(payload.DeptStatus),
				Department: payload.Department,
				UpdatedAt:  payload.UpdatedAt,
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
