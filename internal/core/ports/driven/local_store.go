package driven

import (
	"context"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

// LocalStore owns the synced copies of remote records. The engine only
// touches entities through this contract and holds nothing across pages.
// Writes within one call are transactional: a crash loses at most one
// in-flight page.
type LocalStore interface {
	// UpsertSubResources inserts or updates sub-resource rows.
	UpsertSubResources(ctx context.Context, rows []*domain.SubResource) error

	// MarkSubResourcesRemoved flags every stored sub-resource of the user
	// and family whose provider id is absent from keep.
	MarkSubResourcesRemoved(ctx context.Context, userID string, family domain.ResourceFamily, keep []string) error

	// ListSyncableSubResources returns the sub-resources that participate
	// in a sync pass (selected or primary, not removed).
	ListSyncableSubResources(ctx context.Context, userID string, family domain.ResourceFamily) ([]*domain.SubResource, error)

	// UpsertEntities writes records, never decreasing a stored sequence.
	// Rows whose sequence is not greater than the stored one are dropped;
	// the returned count is the number of rows actually applied.
	UpsertEntities(ctx context.Context, rows []*domain.EntityRecord) (int, error)

	// SoftDeleteEntities marks records cancelled by provider id. The kind
	// is used for the tombstone when a record was never seen locally.
	SoftDeleteEntities(ctx context.Context, userID, subResourceID string, kind domain.EntityKind, providerIDs []string) error
}
