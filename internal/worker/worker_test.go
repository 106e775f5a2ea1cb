package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven/mocks"
)

type stubEngine struct {
	result *domain.SyncResult
	err    error

	runs []string
}

func (s *stubEngine) Run(ctx context.Context, userID string, family domain.ResourceFamily, mode domain.SyncMode) (*domain.SyncResult, error) {
	s.runs = append(s.runs, userID)
	return s.result, s.err
}

func (s *stubEngine) State(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error) {
	return domain.NewSyncState(userID, family), nil
}

func (s *stubEngine) Reset(ctx context.Context, userID string, family domain.ResourceFamily) error {
	return nil
}

func TestProcessTaskAcksAdjudicatedRun(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	engine := &stubEngine{
		result: &domain.SyncResult{
			UserID:   "u1",
			Family:   domain.ResourceFamilyCalendar,
			Strategy: domain.SyncStatusFullSync,
			Success:  true,
		},
	}
	w := New(Config{TaskQueue: queue, Engine: engine})

	ctx := context.Background()
	task := domain.NewSyncTask("u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, queue.Enqueue(ctx, task))

	w.processTask(ctx, task, w.logger)

	assert.Equal(t, []string{"u1"}, engine.runs)
	stored, err := queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
}

func TestProcessTaskAcksFailedButRecordedRun(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	engine := &stubEngine{
		result: &domain.SyncResult{
			UserID:   "u1",
			Family:   domain.ResourceFamilyCalendar,
			Strategy: domain.SyncStatusFullSync,
			Error:    "provider unavailable",
		},
		err: domain.ErrProviderUnavailable,
	}
	w := New(Config{TaskQueue: queue, Engine: engine})

	ctx := context.Background()
	task := domain.NewSyncTask("u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, queue.Enqueue(ctx, task))

	// The engine recorded the failure and scheduled its own retry, so the
	// queue task completes rather than retrying on top of it.
	w.processTask(ctx, task, w.logger)

	stored, err := queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
}

func TestProcessTaskNacksUnadjudicatedRun(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	engine := &stubEngine{err: context.DeadlineExceeded}
	w := New(Config{TaskQueue: queue, Engine: engine})

	ctx := context.Background()
	task := domain.NewSyncTask("u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, queue.Enqueue(ctx, task))
	task.MarkProcessing()

	w.processTask(ctx, task, w.logger)

	stored, err := queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestProcessTaskDropsMalformedPayload(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	engine := &stubEngine{}
	w := New(Config{TaskQueue: queue, Engine: engine})

	ctx := context.Background()
	task := domain.NewSyncTask("", domain.ResourceFamily("bogus"), domain.SyncModeAuto)
	require.NoError(t, queue.Enqueue(ctx, task))

	w.processTask(ctx, task, w.logger)

	assert.Empty(t, engine.runs)
	stored, err := queue.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
}

func TestWorkerStartStop(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	engine := &stubEngine{result: &domain.SyncResult{Success: true}}
	w := New(Config{TaskQueue: queue, Engine: engine, Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))

	health := w.Health(ctx)
	assert.True(t, health.Running)
	assert.True(t, health.QueueHealth)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop in time")
	}
}
