package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Scheduler periodically enqueues sync tasks for resources that are due and
// for resources whose webhook channels are about to expire. Paused and
// currently running resources are never scheduled; they resume via explicit
// reset or run completion.
//
// For multi-instance deployments, configure a DistributedLock so only one
// instance enqueues per cycle.
type Scheduler struct {
	states    driven.SyncStateStore
	channels  driven.ChannelStore
	taskQueue driven.TaskQueue
	lock      driven.DistributedLock
	logger    *slog.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	pollInterval  time.Duration
	syncInterval  time.Duration
	renewalWindow time.Duration
	lockTTL       time.Duration
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	States    driven.SyncStateStore
	Channels  driven.ChannelStore
	TaskQueue driven.TaskQueue
	Lock      driven.DistributedLock // Optional: multi-instance coordination
	Logger    *slog.Logger

	PollInterval time.Duration // How often to check for due resources (default: 60s)
	SyncInterval time.Duration // How stale a resource must be to schedule (default: 15m)

	// RenewalWindow is how far ahead expiring webhook channels are swept;
	// the sync run itself performs the renewal (default: 2h).
	RenewalWindow time.Duration

	LockTTL time.Duration // TTL for the distributed lock (default: 2x poll interval)
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 60 * time.Second
	}
	syncInterval := cfg.SyncInterval
	if syncInterval == 0 {
		syncInterval = 15 * time.Minute
	}
	renewalWindow := cfg.RenewalWindow
	if renewalWindow == 0 {
		renewalWindow = 2 * time.Hour
	}
	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * pollInterval
	}

	return &Scheduler{
		states:        cfg.States,
		channels:      cfg.Channels,
		taskQueue:     cfg.TaskQueue,
		lock:          cfg.Lock,
		logger:        logger,
		pollInterval:  pollInterval,
		syncInterval:  syncInterval,
		renewalWindow: renewalWindow,
		lockTTL:       lockTTL,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting",
		"poll_interval", s.pollInterval, "sync_interval", s.syncInterval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.checkAndEnqueue(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndEnqueue(ctx)
		}
	}
}

// checkAndEnqueue runs one scheduling cycle under the distributed lock.
func (s *Scheduler) checkAndEnqueue(ctx context.Context) {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, "scheduler", s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			return
		}
		if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return
		}
		defer func() {
			if err := s.lock.Release(ctx, "scheduler"); err != nil {
				s.logger.Warn("failed to release scheduler lock", "error", err)
			}
		}()
	}

	enqueued := s.enqueueDueResources(ctx, map[string]bool{})
	s.enqueueExpiringChannels(ctx, enqueued)
}

// enqueueDueResources schedules resources whose last sync is older than the
// sync interval. Returns the set of keys enqueued this cycle.
func (s *Scheduler) enqueueDueResources(ctx context.Context, enqueued map[string]bool) map[string]bool {
	due, err := s.states.ListDue(ctx, s.syncInterval)
	if err != nil {
		s.logger.Error("failed to list due resources", "error", err)
		return enqueued
	}

	for _, state := range due {
		key := state.UserID + ":" + string(state.Family)
		if enqueued[key] {
			continue
		}
		if s.enqueueSync(ctx, state.UserID, state.Family, "due") {
			enqueued[key] = true
		}
	}
	return enqueued
}

// enqueueExpiringChannels schedules a sync for every owner of a channel
// nearing expiry, so the run's channel pass renews it before it lapses.
func (s *Scheduler) enqueueExpiringChannels(ctx context.Context, enqueued map[string]bool) {
	if s.channels == nil {
		return
	}

	expiring, err := s.channels.ListExpiring(ctx, s.renewalWindow)
	if err != nil {
		s.logger.Error("failed to list expiring channels", "error", err)
		return
	}

	for _, ch := range expiring {
		key := ch.UserID + ":" + string(ch.Family)
		if enqueued[key] {
			continue
		}
		if s.enqueueSync(ctx, ch.UserID, ch.Family, "channel_expiring") {
			enqueued[key] = true
		}
	}
}

func (s *Scheduler) enqueueSync(ctx context.Context, userID string, family domain.ResourceFamily, reason string) bool {
	task := domain.NewSyncTask(userID, family, domain.SyncModeAuto)
	if err := s.taskQueue.Enqueue(ctx, task); err != nil {
		s.logger.Error("failed to enqueue sync task",
			"user_id", userID,
			"family", family,
			"error", err,
		)
		return false
	}

	s.logger.Info("enqueued sync task",
		"task_id", task.ID,
		"user_id", userID,
		"family", family,
		"reason", reason,
	)
	return true
}
