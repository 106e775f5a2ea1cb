package driving

import (
	"context"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// SyncEngine is the driving port for sync runs and state inspection.
type SyncEngine interface {
	// Run executes one sync pass for a user and resource family. A second
	// invocation while one is active for the same key is a no-op returning
	// a skipped result.
	Run(ctx context.Context, userID string, family domain.ResourceFamily, mode domain.SyncMode) (*domain.SyncResult, error)

	// State returns the current sync state for UI polling.
	State(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error)

	// Reset clears a paused or errored state so scheduling resumes.
	Reset(ctx context.Context, userID string, family domain.ResourceFamily) error
}

// WebhookReceiver consumes inbound push notifications. Errors are for the
// caller's logs only: the HTTP layer always answers 200 so the provider
// never suspends the channel.
type WebhookReceiver interface {
	Receive(ctx context.Context, headers map[string][]string) error
}
