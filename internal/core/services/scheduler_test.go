package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven/mocks"
)

func newSchedulerFixture(t *testing.T) (*Scheduler, *mocks.MockSyncStateStore, *mocks.MockChannelStore, *mocks.MockTaskQueue) {
	t.Helper()
	states := mocks.NewMockSyncStateStore()
	channels := mocks.NewMockChannelStore()
	queue := mocks.NewMockTaskQueue()
	s := NewScheduler(SchedulerConfig{
		States:       states,
		Channels:     channels,
		TaskQueue:    queue,
		Lock:         mocks.NewMockLock(),
		SyncInterval: 15 * time.Minute,
	})
	return s, states, channels, queue
}

func TestSchedulerEnqueuesDueResources(t *testing.T) {
	s, states, _, queue := newSchedulerFixture(t)

	stale := time.Now().Add(-time.Hour)
	fresh := time.Now()

	due := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	due.LastSyncAt = &stale
	states.Seed(due)

	recent := domain.NewSyncState("u2", domain.ResourceFamilyCalendar)
	recent.LastSyncAt = &fresh
	states.Seed(recent)

	s.checkAndEnqueue(context.Background())

	tasks := queue.Enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].UserID())
	assert.Equal(t, domain.SyncModeAuto, tasks[0].Mode())
}

func TestSchedulerSkipsPausedAndActive(t *testing.T) {
	s, states, _, queue := newSchedulerFixture(t)

	stale := time.Now().Add(-time.Hour)

	paused := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	paused.Status = domain.SyncStatusPaused
	paused.LastSyncAt = &stale
	states.Seed(paused)

	active := domain.NewSyncState("u2", domain.ResourceFamilyMailbox)
	active.Status = domain.SyncStatusIncremental
	active.LastSyncAt = &stale
	states.Seed(active)

	s.checkAndEnqueue(context.Background())
	assert.Empty(t, queue.Enqueued())
}

func TestSchedulerEnqueuesForExpiringChannel(t *testing.T) {
	s, states, channels, queue := newSchedulerFixture(t)
	ctx := context.Background()

	fresh := time.Now()
	state := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	state.LastSyncAt = &fresh
	states.Seed(state)

	soon := time.Now().Add(30 * time.Minute)
	require.NoError(t, channels.Save(ctx, &domain.WebhookChannel{
		ID:            "chan-1",
		UserID:        "u1",
		Family:        domain.ResourceFamilyCalendar,
		SubResourceID: "cal-1",
		ResourceID:    "res-1",
		ExpiresAt:     &soon,
	}))

	s.checkAndEnqueue(ctx)

	tasks := queue.Enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].UserID())
}

func TestSchedulerDeduplicatesWithinCycle(t *testing.T) {
	s, states, channels, queue := newSchedulerFixture(t)
	ctx := context.Background()

	stale := time.Now().Add(-time.Hour)
	state := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	state.LastSyncAt = &stale
	states.Seed(state)

	soon := time.Now().Add(30 * time.Minute)
	require.NoError(t, channels.Save(ctx, &domain.WebhookChannel{
		ID:            "chan-1",
		UserID:        "u1",
		Family:        domain.ResourceFamilyCalendar,
		SubResourceID: "cal-1",
		ResourceID:    "res-1",
		ExpiresAt:     &soon,
	}))

	s.checkAndEnqueue(ctx)
	assert.Len(t, queue.Enqueued(), 1)
}

func TestSchedulerSkipsCycleWhenLockHeld(t *testing.T) {
	states := mocks.NewMockSyncStateStore()
	queue := mocks.NewMockTaskQueue()
	lock := mocks.NewMockLock()

	held, err := lock.Acquire(context.Background(), "scheduler", time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	s := NewScheduler(SchedulerConfig{
		States:    states,
		TaskQueue: queue,
		Lock:      lock,
	})

	stale := time.Now().Add(-time.Hour)
	state := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	state.LastSyncAt = &stale
	states.Seed(state)

	s.checkAndEnqueue(context.Background())
	assert.Empty(t, queue.Enqueued())
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _, _ := newSchedulerFixture(t)

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}
