// Package worker runs the background task loop that executes sync runs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
	"github.com/loomworks/aide-sync/internal/core/ports/driving"
	"github.com/loomworks/aide-sync/internal/core/services"
	"github.com/loomworks/aide-sync/internal/metrics"
)

// Worker processes tasks from the task queue.
// It runs the sync engine for each sync task.
type Worker struct {
	taskQueue driven.TaskQueue
	engine    driving.SyncEngine
	scheduler *services.Scheduler
	logger    *slog.Logger

	concurrency    int
	dequeueTimeout int // seconds

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Config holds configuration for the worker.
type Config struct {
	TaskQueue driven.TaskQueue
	Engine    driving.SyncEngine
	Scheduler *services.Scheduler
	Logger    *slog.Logger

	Concurrency    int // Number of concurrent task processors
	DequeueTimeout int // Seconds to wait for a task before checking again
}

// New creates a new task worker.
func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}

	dequeueTimeout := cfg.DequeueTimeout
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		engine:         cfg.Engine,
		scheduler:      cfg.Scheduler,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until the worker stops.
func (w *Worker) Wait() {
	<-w.doneCh
}

func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Info("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Info("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			time.Sleep(time.Second) // Back off on error
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask processes a single task.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "user_id", task.UserID())
	logger.Info("processing task")

	startTime := time.Now()
	var err error

	switch task.Type {
	case domain.TaskTypeSyncResource:
		err = w.handleSyncResource(ctx, task, logger)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}

	duration := time.Since(startTime)

	if err != nil {
		logger.Error("task failed",
			"duration", duration,
			"error", err,
		)
		metrics.TasksProcessed.WithLabelValues(string(task.Type), "failed").Inc()

		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", duration)
	metrics.TasksProcessed.WithLabelValues(string(task.Type), "completed").Inc()

	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

// handleSyncResource runs the sync engine for one user and family. A run
// whose outcome the engine recorded, success, skip, or a failure with its
// own retry already scheduled, acks the task; only runs that never got
// adjudicated are nacked for a queue-level retry.
func (w *Worker) handleSyncResource(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	userID := task.UserID()
	family := task.Family()
	if userID == "" || !family.Valid() {
		// Malformed payloads never become valid; drop instead of retrying.
		logger.Warn("dropping malformed sync task", "family", family)
		return nil
	}

	result, err := w.engine.Run(ctx, userID, family, task.Mode())
	if result != nil {
		outcome := "failure"
		switch {
		case result.Skipped:
			outcome = "skipped"
		case result.Success:
			outcome = "success"
		}
		metrics.SyncRuns.WithLabelValues(string(family), string(result.Strategy), outcome).Inc()
		if !result.Skipped {
			metrics.SyncDuration.WithLabelValues(string(family), string(result.Strategy)).Observe(result.Duration)
			metrics.EntitiesUpserted.WithLabelValues(string(family)).Add(float64(result.Stats.Upserted))
			metrics.StaleRecordsDropped.WithLabelValues(string(family)).Add(float64(result.Stats.StaleDropped))
			metrics.RecordErrors.WithLabelValues(string(family)).Add(float64(result.Stats.RecordErrors))
		}
		return nil
	}
	return err
}

// Health reports the worker's run state and queue reachability.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
