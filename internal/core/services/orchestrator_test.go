package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven/mocks"
)

type orchestratorFixture struct {
	orch     *Orchestrator
	states   *mocks.MockSyncStateStore
	store    *mocks.MockLocalStore
	client   *mocks.MockProviderClient
	queue    *mocks.MockTaskQueue
	creds    *mocks.MockCredentialProvider
	channels *mocks.MockChannelStore
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		states:   mocks.NewMockSyncStateStore(),
		store:    mocks.NewMockLocalStore(),
		client:   mocks.NewMockProviderClient(domain.ResourceFamilyCalendar),
		queue:    mocks.NewMockTaskQueue(),
		creds:    &mocks.MockCredentialProvider{},
		channels: mocks.NewMockChannelStore(),
	}

	cm := NewChannelManager(ChannelManagerConfig{
		Channels:        f.channels,
		CallbackBaseURL: "https://sync.example.com",
	})

	f.orch = NewOrchestrator(OrchestratorConfig{
		States:      f.states,
		Store:       f.store,
		Providers:   mocks.NewMockProviderFactory(f.client),
		Credentials: f.creds,
		Queue:       f.queue,
		Channels:    cm,
	})
	return f
}

func subResource(id string) *domain.SubResource {
	return &domain.SubResource{ProviderID: id, Name: id, IsSelected: true}
}

func entity(id string, seq int64) *domain.ProviderEntity {
	return &domain.ProviderEntity{
		ProviderID: id,
		Kind:       domain.EntityKindEvent,
		Sequence:   seq,
		Title:      "item " + id,
		UpdatedAt:  time.Now(),
	}
}

func TestRunFullSync(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	f.client.SubResourcePages = []*domain.SubResourcePage{
		{Items: []*domain.SubResource{subResource("cal-1")}, NextSyncToken: "list-tok"},
	}
	f.client.FullPages["cal-1"] = []*domain.EntityPage{
		{Items: []*domain.ProviderEntity{entity("e1", 1), entity("e2", 1)}, NextPageToken: "p2"},
		{Items: []*domain.ProviderEntity{entity("e3", 1)}, NextSyncToken: "ev-tok"},
	}

	result, err := f.orch.Run(ctx, "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.Skipped)
	assert.Equal(t, domain.SyncStatusFullSync, result.Strategy)
	assert.Equal(t, 1, result.Stats.SubResources)
	assert.Equal(t, 2, result.Stats.Pages)
	assert.Equal(t, 3, result.Stats.Upserted)

	require.NotNil(t, f.store.Entity("cal-1", "e2"))

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	require.NotNil(t, state)
	assert.Equal(t, domain.SyncStatusIdle, state.Status)
	assert.NotNil(t, state.LastSyncAt)
	assert.NotNil(t, state.LastFullSyncAt)
	assert.Equal(t, "list-tok", state.ResourceSyncToken)
	assert.Equal(t, "ev-tok", state.TokenFor("cal-1"))
	assert.Zero(t, state.ErrorCount)

	// full sync registers a webhook channel for the sub-resource
	ch, err := f.channels.GetBySubResource(ctx, "u1", domain.ResourceFamilyCalendar, "cal-1")
	require.NoError(t, err)
	assert.Equal(t, state.WebhookChannelID, ch.ID)
}

func TestTokenPersistedOnlyOnTerminalPage(t *testing.T) {
	f := newOrchestratorFixture(t)

	f.client.SubResourcePages = []*domain.SubResourcePage{
		{Items: []*domain.SubResource{subResource("cal-1")}},
	}
	f.client.FullPages["cal-1"] = []*domain.EntityPage{
		{Items: []*domain.ProviderEntity{entity("e1", 1)}, NextPageToken: "p2"},
		{Items: []*domain.ProviderEntity{entity("e2", 1)}, NextPageToken: "p3"},
		{Items: []*domain.ProviderEntity{entity("e3", 1)}, NextSyncToken: "final-tok"},
	}

	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeFull)
	require.NoError(t, err)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, "final-tok", state.TokenFor("cal-1"))
}

func TestAutoPicksIncrementalWithFreshTokens(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	now := time.Now()
	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.LastSyncAt = &now
	seed.LastFullSyncAt = &now
	seed.SetToken("cal-1", "ev-tok")
	f.states.Seed(seed)
	require.NoError(t, f.store.UpsertSubResources(ctx, []*domain.SubResource{
		{UserID: "u1", Family: domain.ResourceFamilyCalendar, ProviderID: "cal-1", IsSelected: true},
	}))

	f.client.IncrementalPages["cal-1"] = []*domain.EntityPage{
		{Items: []*domain.ProviderEntity{entity("e9", 2)}, NextSyncToken: "ev-tok-2"},
	}

	result, err := f.orch.Run(ctx, "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusIncremental, result.Strategy)
	assert.Equal(t, []string{"cal-1"}, f.client.IncrementalCalls)
	assert.Empty(t, f.client.FullCalls)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, "ev-tok-2", state.TokenFor("cal-1"))
	assert.NotNil(t, f.store.Entity("cal-1", "e9"))
}

func TestAutoForcesFullWhenStale(t *testing.T) {
	f := newOrchestratorFixture(t)

	old := time.Now().Add(-30 * 24 * time.Hour)
	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.LastFullSyncAt = &old
	seed.SetToken("cal-1", "ev-tok")
	f.states.Seed(seed)

	f.client.SubResourcePages = []*domain.SubResourcePage{
		{Items: []*domain.SubResource{subResource("cal-1")}},
	}
	f.client.FullPages["cal-1"] = []*domain.EntityPage{{}}

	result, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusFullSync, result.Strategy)
}

func TestExpiredTokenFallsBackWithoutErrorBudget(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	now := time.Now()
	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.LastFullSyncAt = &now
	seed.SetToken("cal-1", "stale-tok")
	f.states.Seed(seed)
	require.NoError(t, f.store.UpsertSubResources(ctx, []*domain.SubResource{
		{UserID: "u1", Family: domain.ResourceFamilyCalendar, ProviderID: "cal-1", IsSelected: true},
	}))

	f.client.EntityErrs["cal-1"] = domain.ErrSyncTokenExpired
	f.client.FullPages["cal-1"] = []*domain.EntityPage{
		{Items: []*domain.ProviderEntity{entity("e1", 1)}, NextSyncToken: "fresh-tok"},
	}

	result, err := f.orch.Run(ctx, "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, domain.SyncStatusIncremental, result.Strategy)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Zero(t, state.ErrorCount)
	assert.Equal(t, "fresh-tok", state.TokenFor("cal-1"))
	assert.NotNil(t, f.store.Entity("cal-1", "e1"))
	// the sub-resource was re-fetched in full after the rejection
	assert.Equal(t, []string{"cal-1"}, f.client.FullCalls)
}

func TestConcurrentRunSkipped(t *testing.T) {
	f := newOrchestratorFixture(t)

	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.Status = domain.SyncStatusFullSync
	seed.UpdatedAt = time.Now()
	f.states.Seed(seed)

	result, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.False(t, result.Success)
	assert.Zero(t, f.client.SubResourceCalls)
}

func TestCrashedRunReclaimed(t *testing.T) {
	f := newOrchestratorFixture(t)

	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.Status = domain.SyncStatusFullSync
	seed.UpdatedAt = time.Now().Add(-time.Hour)
	f.states.Seed(seed)

	f.client.SubResourcePages = []*domain.SubResourcePage{
		{Items: []*domain.SubResource{subResource("cal-1")}},
	}
	f.client.FullPages["cal-1"] = []*domain.EntityPage{{}}

	result, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.True(t, result.Success)
	assert.Equal(t, domain.SyncStatusIdle, f.states.State("u1", domain.ResourceFamilyCalendar).Status)
}

func TestAuthFailurePausesWithoutBudget(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.creds.Err = domain.ErrAuthFailure

	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.Error(t, err)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, domain.SyncStatusPaused, state.Status)
	assert.Zero(t, state.ErrorCount)
	assert.Empty(t, f.queue.Enqueued())
}

func TestTransientFailureSchedulesRetry(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.client.SubResourceErr = domain.ErrProviderUnavailable

	before := time.Now()
	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.Error(t, err)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, domain.SyncStatusError, state.Status)
	assert.Equal(t, 1, state.ErrorCount)
	assert.Contains(t, state.ErrorMessage, "provider unavailable")

	tasks := f.queue.Enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, "u1", tasks[0].UserID())
	assert.False(t, tasks[0].ScheduledFor.Before(before.Add(time.Second)))
}

func TestRateLimitHonorsRetryAfter(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.client.SubResourceErr = &domain.RateLimitError{RetryAfter: 42 * time.Second}

	before := time.Now()
	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.Error(t, err)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, 1, state.ErrorCount)

	tasks := f.queue.Enqueued()
	require.Len(t, tasks, 1)
	assert.False(t, tasks[0].ScheduledFor.Before(before.Add(42*time.Second)))
}

func TestErrorBudgetExhaustionPauses(t *testing.T) {
	f := newOrchestratorFixture(t)

	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.ErrorCount = 4
	seed.Status = domain.SyncStatusError
	f.states.Seed(seed)

	f.client.SubResourceErr = domain.ErrProviderUnavailable

	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamilyCalendar, domain.SyncModeAuto)
	require.Error(t, err)

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, domain.SyncStatusPaused, state.Status)
	assert.Equal(t, 5, state.ErrorCount)
	assert.Empty(t, f.queue.Enqueued())
}

func TestResetResumesPausedState(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	seed := domain.NewSyncState("u1", domain.ResourceFamilyCalendar)
	seed.Status = domain.SyncStatusPaused
	seed.ErrorCount = 5
	seed.ErrorMessage = "provider unavailable"
	f.states.Seed(seed)

	require.NoError(t, f.orch.Reset(ctx, "u1", domain.ResourceFamilyCalendar))

	state := f.states.State("u1", domain.ResourceFamilyCalendar)
	assert.Equal(t, domain.SyncStatusIdle, state.Status)
	assert.Zero(t, state.ErrorCount)
	assert.Empty(t, state.ErrorMessage)
}

func TestRemovedSubResourcesPruned(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.UpsertSubResources(ctx, []*domain.SubResource{
		{UserID: "u1", Family: domain.ResourceFamilyCalendar, ProviderID: "cal-old", IsSelected: true},
	}))

	f.client.SubResourcePages = []*domain.SubResourcePage{
		{Items: []*domain.SubResource{subResource("cal-new")}},
	}
	f.client.FullPages["cal-new"] = []*domain.EntityPage{{}}

	result, err := f.orch.Run(ctx, "u1", domain.ResourceFamilyCalendar, domain.SyncModeFull)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stats.SubResources)
	assert.True(t, f.store.SubResources["cal-old"].IsRemoved)
	assert.False(t, f.store.SubResources["cal-new"].IsRemoved)
}

func TestRunRejectsInvalidFamily(t *testing.T) {
	f := newOrchestratorFixture(t)

	_, err := f.orch.Run(context.Background(), "u1", domain.ResourceFamily("bogus"), domain.SyncModeAuto)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
