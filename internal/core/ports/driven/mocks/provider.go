package mocks

import (
	"context"
	"sync"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Ensure interface compliance
var (
	_ driven.ProviderClient  = (*MockProviderClient)(nil)
	_ driven.ProviderFactory = (*MockProviderFactory)(nil)
)

// MockProviderClient serves scripted pages and records the calls it saw.
// Pages are consumed in order per listing; sync-token listings are scripted
// separately from full scans so tests can distinguish the two paths.
type MockProviderClient struct {
	mu sync.Mutex

	FamilyValue domain.ResourceFamily

	// SubResourcePages are served in order by ListSubResources.
	SubResourcePages []*domain.SubResourcePage
	subPageIdx       int
	SubResourceErr   error

	// FullPages maps sub-resource id to the pages of a full scan;
	// IncrementalPages to the pages of a sync-token fetch.
	FullPages        map[string][]*domain.EntityPage
	IncrementalPages map[string][]*domain.EntityPage
	fullIdx          map[string]int
	incIdx           map[string]int

	// EntityErrs, keyed by sub-resource id, fail the next incremental call
	// once. Used to script token-expiry and transient failures.
	EntityErrs map[string]error

	WatchChannel *domain.WebhookChannel
	WatchErr     error
	StopErr      error

	SubResourceCalls int
	FullCalls        []string
	IncrementalCalls []string
	StoppedChannels  []string
	WatchedSubs      []string
}

// NewMockProviderClient creates a client with no scripted pages.
func NewMockProviderClient(family domain.ResourceFamily) *MockProviderClient {
	return &MockProviderClient{
		FamilyValue:      family,
		FullPages:        map[string][]*domain.EntityPage{},
		IncrementalPages: map[string][]*domain.EntityPage{},
		fullIdx:          map[string]int{},
		incIdx:           map[string]int{},
		EntityErrs:       map[string]error{},
	}
}

// Family returns the configured family.
func (m *MockProviderClient) Family() domain.ResourceFamily {
	return m.FamilyValue
}

// ListSubResources serves the next scripted sub-resource page.
func (m *MockProviderClient) ListSubResources(ctx context.Context, opts driven.ListOptions) (*domain.SubResourcePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SubResourceCalls++
	if m.SubResourceErr != nil {
		return nil, m.SubResourceErr
	}
	if m.subPageIdx >= len(m.SubResourcePages) {
		return &domain.SubResourcePage{}, nil
	}
	page := m.SubResourcePages[m.subPageIdx]
	m.subPageIdx++
	return page, nil
}

// ListEntities serves scripted pages, incremental when a sync token is set.
func (m *MockProviderClient) ListEntities(ctx context.Context, subResourceID string, opts driven.ListOptions) (*domain.EntityPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.SyncToken != "" {
		m.IncrementalCalls = append(m.IncrementalCalls, subResourceID)
		if err := m.EntityErrs[subResourceID]; err != nil {
			delete(m.EntityErrs, subResourceID)
			return nil, err
		}
		return m.nextPage(m.IncrementalPages, m.incIdx, subResourceID), nil
	}

	m.FullCalls = append(m.FullCalls, subResourceID)
	return m.nextPage(m.FullPages, m.fullIdx, subResourceID), nil
}

func (m *MockProviderClient) nextPage(pages map[string][]*domain.EntityPage, idx map[string]int, subResourceID string) *domain.EntityPage {
	scripted := pages[subResourceID]
	i := idx[subResourceID]
	if i >= len(scripted) {
		return &domain.EntityPage{}
	}
	idx[subResourceID] = i + 1
	return scripted[i]
}

// Watch returns the scripted channel.
func (m *MockProviderClient) Watch(ctx context.Context, subResourceID, callbackURL string) (*domain.WebhookChannel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WatchedSubs = append(m.WatchedSubs, subResourceID)
	if m.WatchErr != nil {
		return nil, m.WatchErr
	}
	if m.WatchChannel != nil {
		cp := *m.WatchChannel
		cp.SubResourceID = subResourceID
		return &cp, nil
	}
	return &domain.WebhookChannel{ID: "chan-" + subResourceID, SubResourceID: subResourceID, ResourceID: "res-" + subResourceID}, nil
}

// StopWatch records the stop call.
func (m *MockProviderClient) StopWatch(ctx context.Context, channelID, resourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoppedChannels = append(m.StoppedChannels, channelID)
	return m.StopErr
}

// MockProviderFactory hands out a fixed client.
type MockProviderFactory struct {
	Client    *MockProviderClient
	CreateErr error

	CreateCalls int
	LastToken   string
}

// NewMockProviderFactory wraps a client in a factory.
func NewMockProviderFactory(client *MockProviderClient) *MockProviderFactory {
	return &MockProviderFactory{Client: client}
}

// Create returns the wrapped client.
func (m *MockProviderFactory) Create(ctx context.Context, userID string, family domain.ResourceFamily, accessToken string) (driven.ProviderClient, error) {
	m.CreateCalls++
	m.LastToken = accessToken
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	return m.Client, nil
}
