package driven

import (
	"context"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// ListOptions control a single provider page fetch. PageToken continues the
// current listing; SyncToken requests only changes since the token was
// issued. The two are mutually exclusive on full-scan calls.
type ListOptions struct {
	PageToken string
	SyncToken string

	// MaxResults caps the page size; zero uses the provider default.
	MaxResults int64
}

// ProviderClient abstracts one external provider for one user. Adapters map
// the provider's wire schema onto the engine's neutral shapes and translate
// provider error codes onto the domain taxonomy: an expired continuation
// token must surface as domain.ErrSyncTokenExpired, throttling as
// *domain.RateLimitError, rejected credentials as domain.ErrAuthFailure.
type ProviderClient interface {
	// Family returns the resource family this client serves.
	Family() domain.ResourceFamily

	// ListSubResources pages through the user's sub-resources (calendars,
	// mailbox folders). Only the terminal page may carry NextSyncToken.
	ListSubResources(ctx context.Context, opts ListOptions) (*domain.SubResourcePage, error)

	// ListEntities pages through records of one sub-resource. With a
	// SyncToken only changes since the token are returned. Only the
	// terminal page may carry NextSyncToken.
	ListEntities(ctx context.Context, subResourceID string, opts ListOptions) (*domain.EntityPage, error)

	// Watch registers a push-notification channel for a sub-resource.
	Watch(ctx context.Context, subResourceID, callbackURL string) (*domain.WebhookChannel, error)

	// StopWatch deregisters a channel. Best-effort on the caller's side:
	// failures are logged, never retried.
	StopWatch(ctx context.Context, channelID, resourceID string) error
}

// ProviderFactory creates a ProviderClient bound to one user's credential.
type ProviderFactory interface {
	Create(ctx context.Context, userID string, family domain.ResourceFamily, accessToken string) (ProviderClient, error)
}
