package mocks

import (
	"context"
	"sync"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Ensure MockLocalStore implements LocalStore
var _ driven.LocalStore = (*MockLocalStore)(nil)

// MockLocalStore is an in-memory LocalStore for testing. It enforces the
// same sequence-monotonicity contract as the real store.
type MockLocalStore struct {
	mu           sync.Mutex
	SubResources map[string]*domain.SubResource  // keyed by provider id
	Entities     map[string]*domain.EntityRecord // keyed by subResourceID + "/" + providerID

	UpsertSubErr    error
	UpsertEntErr    error
	SoftDeleteErr   error
	ListSyncableErr error
}

// NewMockLocalStore creates an empty mock local store.
func NewMockLocalStore() *MockLocalStore {
	return &MockLocalStore{
		SubResources: map[string]*domain.SubResource{},
		Entities:     map[string]*domain.EntityRecord{},
	}
}

func entityKey(subResourceID, providerID string) string {
	return subResourceID + "/" + providerID
}

// UpsertSubResources inserts or updates sub-resource rows.
func (m *MockLocalStore) UpsertSubResources(ctx context.Context, rows []*domain.SubResource) error {
	if m.UpsertSubErr != nil {
		return m.UpsertSubErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		cp := *row
		m.SubResources[row.ProviderID] = &cp
	}
	return nil
}

// MarkSubResourcesRemoved flags rows absent from keep.
func (m *MockLocalStore) MarkSubResourcesRemoved(ctx context.Context, userID string, family domain.ResourceFamily, keep []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	keepSet := map[string]bool{}
	for _, id := range keep {
		keepSet[id] = true
	}
	for id, sub := range m.SubResources {
		if sub.UserID == userID && sub.Family == family && !keepSet[id] {
			sub.IsRemoved = true
		}
	}
	return nil
}

// ListSyncableSubResources returns selected or primary, non-removed rows.
func (m *MockLocalStore) ListSyncableSubResources(ctx context.Context, userID string, family domain.ResourceFamily) ([]*domain.SubResource, error) {
	if m.ListSyncableErr != nil {
		return nil, m.ListSyncableErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SubResource
	for _, sub := range m.SubResources {
		if sub.UserID == userID && sub.Family == family && sub.Syncable() {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

// UpsertEntities applies rows with the sequence guard, returning the number
// of rows actually written.
func (m *MockLocalStore) UpsertEntities(ctx context.Context, rows []*domain.EntityRecord) (int, error) {
	if m.UpsertEntErr != nil {
		return 0, m.UpsertEntErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	applied := 0
	for _, row := range rows {
		key := entityKey(row.SubResourceID, row.ProviderID)
		if existing, ok := m.Entities[key]; ok && existing.Sequence >= row.Sequence {
			continue
		}
		cp := *row
		m.Entities[key] = &cp
		applied++
	}
	return applied, nil
}

// SoftDeleteEntities marks records cancelled, tombstoning unseen ones with
// the given kind.
func (m *MockLocalStore) SoftDeleteEntities(ctx context.Context, userID, subResourceID string, kind domain.EntityKind, providerIDs []string) error {
	if m.SoftDeleteErr != nil {
		return m.SoftDeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range providerIDs {
		if rec, ok := m.Entities[entityKey(subResourceID, id)]; ok {
			rec.Status = domain.EntityStatusCancelled
		} else {
			m.Entities[entityKey(subResourceID, id)] = &domain.EntityRecord{
				UserID:        userID,
				SubResourceID: subResourceID,
				ProviderID:    id,
				Kind:          kind,
				Status:        domain.EntityStatusCancelled,
			}
		}
	}
	return nil
}

// Entity returns a stored record for assertions.
func (m *MockLocalStore) Entity(subResourceID, providerID string) *domain.EntityRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Entities[entityKey(subResourceID, providerID)]
}
