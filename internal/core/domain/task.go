package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateID creates a unique random ID.
func GenerateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// TaskType identifies the type of background task
type TaskType string

const (
	// TaskTypeSyncResource runs the orchestrator for one user and family
	TaskTypeSyncResource TaskType = "sync_resource"
)

// TaskStatus represents the current state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task represents a background job to be processed by workers.
// Both the periodic scheduler and the webhook handler enqueue tasks; they
// converge on the same orchestrator entry point.
type Task struct {
	ID   string   `json:"id"`
	Type TaskType `json:"type"`

	// Payload contains task-specific data.
	// For sync_resource: {"user_id": ..., "family": ..., "mode": ...}
	Payload map[string]string `json:"payload"`

	Status      TaskStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	Error       string     `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ScheduledFor is when the task should be processed (for delayed tasks)
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSyncTask creates a task to sync one user's resource family.
func NewSyncTask(userID string, family ResourceFamily, mode SyncMode) *Task {
	now := time.Now()
	return &Task{
		ID:   GenerateID(),
		Type: TaskTypeSyncResource,
		Payload: map[string]string{
			"user_id": userID,
			"family":  string(family),
			"mode":    string(mode),
		},
		Status:       TaskStatusPending,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		ScheduledFor: now,
	}
}

// UserID extracts the user id from the payload.
func (t *Task) UserID() string {
	return t.Payload["user_id"]
}

// Family extracts the resource family from the payload.
func (t *Task) Family() ResourceFamily {
	return ResourceFamily(t.Payload["family"])
}

// Mode extracts the sync mode from the payload, defaulting to auto.
func (t *Task) Mode() SyncMode {
	if m := t.Payload["mode"]; m != "" {
		return SyncMode(m)
	}
	return SyncModeAuto
}

// CanRetry returns true if the task can be retried
func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// MarkProcessing updates the task to processing state
func (t *Task) MarkProcessing() {
	now := time.Now()
	t.Status = TaskStatusProcessing
	t.UpdatedAt = now
	t.Attempts++
}

// MarkCompleted updates the task to completed state
func (t *Task) MarkCompleted() {
	t.Status = TaskStatusCompleted
	t.UpdatedAt = time.Now()
	t.Error = ""
}

// MarkFailed updates the task to failed state
func (t *Task) MarkFailed(err string) {
	t.Status = TaskStatusFailed
	t.UpdatedAt = time.Now()
	t.Error = err
}

// Retry resets the task for retry. When delay is zero an exponential
// backoff derived from the attempt count is used.
func (t *Task) Retry(err string, delay time.Duration) {
	now := time.Now()
	t.Status = TaskStatusPending
	t.UpdatedAt = now
	t.Error = err

	if delay <= 0 {
		delay = time.Duration(1<<t.Attempts) * time.Second
		if delay > 5*time.Minute {
			delay = 5 * time.Minute
		}
	}
	t.ScheduledFor = now.Add(delay)
}
