package driven

import (
	"context"

	"github.com/custodia-labs/ledgersync/internal/core/domain"
)

// TaskQueue carries sync, payment, refund, batch and reconcile requests from the
// API and webhooks to the worker. Redis streams when configured, otherwise Postgres.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.Task) error

	// DequeueWithTimeout claims the next ready task, waiting up to timeout seconds.
	// Returns nil, nil when nothing became ready.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack releases a claimed task for another attempt, or fails it once
	// MaxAttempts is reached. reason is stored on the task.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask returns a task by id, domain.ErrNotFound if unknown.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	Stats(ctx context.Context) (*QueueStats, error)
	Ping(ctx context.Context) error
	Close() error
}

// QueueStats counts tasks by state
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`
}
