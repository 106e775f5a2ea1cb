package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Ensure interface compliance
var (
	_ driven.SyncStateStore = (*MockSyncStateStore)(nil)
	_ driven.ChannelStore   = (*MockChannelStore)(nil)
)

func stateKey(userID string, family domain.ResourceFamily) string {
	return userID + ":" + string(family)
}

// MockSyncStateStore is an in-memory SyncStateStore with the same
// compare-and-set claim semantics as the postgres store.
type MockSyncStateStore struct {
	mu     sync.Mutex
	States map[string]*domain.SyncState

	GetErr      error
	SaveErr     error
	BeginRunErr error
}

// NewMockSyncStateStore creates an empty mock store.
func NewMockSyncStateStore() *MockSyncStateStore {
	return &MockSyncStateStore{States: map[string]*domain.SyncState{}}
}

// Seed stores a state directly, for test setup.
func (m *MockSyncStateStore) Seed(state *domain.SyncState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneState(state)
	m.States[stateKey(state.UserID, state.Family)] = cp
}

func cloneState(s *domain.SyncState) *domain.SyncState {
	cp := *s
	cp.SubResourceTokens = map[string]string{}
	for k, v := range s.SubResourceTokens {
		cp.SubResourceTokens[k] = v
	}
	return &cp
}

// Get returns the stored state or a default idle one.
func (m *MockSyncStateStore) Get(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.States[stateKey(userID, family)]; ok {
		return cloneState(s), nil
	}
	return domain.NewSyncState(userID, family), nil
}

// Save creates or updates the state row.
func (m *MockSyncStateStore) Save(ctx context.Context, state *domain.SyncState) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneState(state)
	cp.UpdatedAt = time.Now()
	m.States[stateKey(state.UserID, state.Family)] = cp
	return nil
}

// BeginRun claims the state when it is idle, errored, or stale-active.
func (m *MockSyncStateStore) BeginRun(ctx context.Context, userID string, family domain.ResourceFamily, target domain.SyncStatus, liveness time.Duration) (bool, error) {
	if m.BeginRunErr != nil {
		return false, m.BeginRunErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := stateKey(userID, family)
	s, ok := m.States[key]
	if !ok {
		s = domain.NewSyncState(userID, family)
		m.States[key] = s
	}

	claimable := s.Status == domain.SyncStatusIdle ||
		s.Status == domain.SyncStatusError ||
		s.CrashedSince(liveness)
	if !claimable {
		return false, nil
	}

	s.Status = target
	s.UpdatedAt = time.Now()
	return true, nil
}

// SaveResourceToken persists the family-level token.
func (m *MockSyncStateStore) SaveResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(userID, family)
	if s, ok := m.States[key]; ok {
		s.ResourceSyncToken = token
	}
	return nil
}

// SaveSubResourceToken persists or clears one sub-resource token.
func (m *MockSyncStateStore) SaveSubResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(userID, family)
	s, ok := m.States[key]
	if !ok {
		return nil
	}
	if token == "" {
		s.ClearToken(subResourceID)
	} else {
		s.SetToken(subResourceID, token)
	}
	return nil
}

// Reset clears pause and error bookkeeping.
func (m *MockSyncStateStore) Reset(ctx context.Context, userID string, family domain.ResourceFamily) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.States[stateKey(userID, family)]; ok {
		s.Status = domain.SyncStatusIdle
		s.ErrorCount = 0
		s.ErrorMessage = ""
		s.UpdatedAt = time.Now()
	}
	return nil
}

// ListDue returns non-paused, non-active states synced before the interval.
func (m *MockSyncStateStore) ListDue(ctx context.Context, interval time.Duration) ([]*domain.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-interval)
	var out []*domain.SyncState
	for _, s := range m.States {
		if s.Status == domain.SyncStatusPaused || s.Status.Active() {
			continue
		}
		if s.LastSyncAt == nil || s.LastSyncAt.Before(cutoff) {
			out = append(out, cloneState(s))
		}
	}
	return out, nil
}

// State returns the raw stored state for assertions.
func (m *MockSyncStateStore) State(userID string, family domain.ResourceFamily) *domain.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.States[stateKey(userID, family)]
}

// MockChannelStore is an in-memory ChannelStore.
type MockChannelStore struct {
	mu       sync.Mutex
	Channels map[string]*domain.WebhookChannel

	SaveErr error
	GetErr  error
}

// NewMockChannelStore creates an empty mock channel store.
func NewMockChannelStore() *MockChannelStore {
	return &MockChannelStore{Channels: map[string]*domain.WebhookChannel{}}
}

// Save stores a channel by id.
func (m *MockChannelStore) Save(ctx context.Context, ch *domain.WebhookChannel) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.Channels[ch.ID] = &cp
	return nil
}

// Get returns a channel by id or domain.ErrNotFound.
func (m *MockChannelStore) Get(ctx context.Context, channelID string) (*domain.WebhookChannel, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.Channels[channelID]; ok {
		cp := *ch
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

// GetBySubResource returns the channel watching a sub-resource.
func (m *MockChannelStore) GetBySubResource(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID string) (*domain.WebhookChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.Channels {
		if ch.UserID == userID && ch.Family == family && ch.SubResourceID == subResourceID {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// Delete removes a channel.
func (m *MockChannelStore) Delete(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Channels, channelID)
	return nil
}

// ListExpiring returns channels expiring within the window.
func (m *MockChannelStore) ListExpiring(ctx context.Context, within time.Duration) ([]*domain.WebhookChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deadline := time.Now().Add(within)
	var out []*domain.WebhookChannel
	for _, ch := range m.Channels {
		if ch.ExpiresAt != nil && ch.ExpiresAt.Before(deadline) {
			cp := *ch
			out = append(out, &cp)
		}
	}
	return out, nil
}
