package driven

import (
	"context"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// TaskQueue handles background task queuing and processing.
type TaskQueue interface {
	// Enqueue adds a task to the queue. Tasks with a future ScheduledFor
	// are held back until due.
	Enqueue(ctx context.Context, task *domain.Task) error

	// DequeueWithTimeout retrieves the next available task, waiting up to
	// timeout seconds. Returns nil, nil when none is available in time.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack acknowledges successful completion of a task.
	Ack(ctx context.Context, taskID string) error

	// Nack indicates processing failed. The task is re-enqueued with its
	// retry delay, or marked failed once retries are exhausted.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask retrieves a task by ID (for status checking).
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}
