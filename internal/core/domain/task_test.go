package domain

import (
	"testing"
	"time"
)

func TestNewSyncTask(t *testing.T) {
	task := NewSyncTask("user-1", ResourceFamilyMailbox, SyncModeFull)

	if task.ID == "" {
		t.Error("expected non-empty task ID")
	}
	if task.Type != TaskTypeSyncResource {
		t.Errorf("expected sync_resource type, got %s", task.Type)
	}
	if task.UserID() != "user-1" {
		t.Errorf("expected user-1, got %s", task.UserID())
	}
	if task.Family() != ResourceFamilyMailbox {
		t.Errorf("expected mailbox family, got %s", task.Family())
	}
	if task.Mode() != SyncModeFull {
		t.Errorf("expected full mode, got %s", task.Mode())
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending status, got %s", task.Status)
	}
}

func TestTaskModeDefaultsToAuto(t *testing.T) {
	task := &Task{Payload: map[string]string{"user_id": "u"}}
	if task.Mode() != SyncModeAuto {
		t.Errorf("expected auto mode, got %s", task.Mode())
	}
}

func TestTaskRetryLifecycle(t *testing.T) {
	task := NewSyncTask("user-1", ResourceFamilyCalendar, SyncModeAuto)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}
	if task.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", task.Attempts)
	}
	if !task.CanRetry() {
		t.Error("expected task to be retryable after first attempt")
	}

	task.Retry("provider unavailable", 0)
	if task.Status != TaskStatusPending {
		t.Errorf("expected pending after retry, got %s", task.Status)
	}
	if !task.ScheduledFor.After(time.Now()) {
		t.Error("expected retry to be scheduled in the future")
	}

	task.Attempts = task.MaxAttempts
	if task.CanRetry() {
		t.Error("expected retries exhausted")
	}

	task.MarkFailed("gave up")
	if task.Status != TaskStatusFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	if task.Error != "gave up" {
		t.Errorf("expected error recorded, got %q", task.Error)
	}
}

func TestTaskRetryHonorsExplicitDelay(t *testing.T) {
	task := NewSyncTask("user-1", ResourceFamilyCalendar, SyncModeAuto)
	task.MarkProcessing()

	before := time.Now()
	task.Retry("rate limited", 30*time.Second)
	earliest := before.Add(29 * time.Second)
	if task.ScheduledFor.Before(earliest) {
		t.Errorf("expected retry at least 30s out, got %s", task.ScheduledFor.Sub(before))
	}
}

func TestGenerateIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}
