package driven

import (
	"context"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// SyncStateStore persists sync state and continuation tokens per user and
// resource family.
type SyncStateStore interface {
	// Get retrieves the state, returning a default idle state when none is
	// stored yet.
	Get(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error)

	// Save creates or updates the full state row.
	Save(ctx context.Context, state *domain.SyncState) error

	// BeginRun atomically claims the state for a run by moving status to
	// target. The claim succeeds from idle or error, and from an active
	// status whose last update is older than liveness (a crashed run).
	// Returns false when another live run holds the state.
	BeginRun(ctx context.Context, userID string, family domain.ResourceFamily, target domain.SyncStatus, liveness time.Duration) (bool, error)

	// SaveResourceToken persists the family-level continuation token.
	SaveResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, token string) error

	// SaveSubResourceToken persists one sub-resource token. An empty token
	// clears the entry, forcing a full fetch of that sub-resource.
	SaveSubResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID, token string) error

	// Reset clears error count, message, and pause so scheduling resumes.
	// It is the explicit operator/user action required after a pause.
	Reset(ctx context.Context, userID string, family domain.ResourceFamily) error

	// ListDue returns states whose last sync is older than interval and
	// that are eligible for scheduling (not paused, not actively syncing).
	ListDue(ctx context.Context, interval time.Duration) ([]*domain.SyncState, error)
}

// ChannelStore persists webhook channel registrations. Lookup by channel id
// is the authentication path for inbound push notifications.
type ChannelStore interface {
	Save(ctx context.Context, ch *domain.WebhookChannel) error

	// Get returns the channel or domain.ErrNotFound.
	Get(ctx context.Context, channelID string) (*domain.WebhookChannel, error)

	// GetBySubResource returns the channel watching one sub-resource, or
	// domain.ErrNotFound.
	GetBySubResource(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID string) (*domain.WebhookChannel, error)

	Delete(ctx context.Context, channelID string) error

	// ListExpiring returns channels expiring within the given window,
	// including already-expired ones.
	ListExpiring(ctx context.Context, within time.Duration) ([]*domain.WebhookChannel, error)
}
