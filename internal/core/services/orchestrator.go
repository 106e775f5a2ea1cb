package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
	"github.com/loomworks/aide-sync/internal/core/ports/driving"
)

// Ensure Orchestrator implements the driving port
var _ driving.SyncEngine = (*Orchestrator)(nil)

// OrchestratorConfig holds the orchestrator's dependencies and tunables.
type OrchestratorConfig struct {
	States      driven.SyncStateStore
	Store       driven.LocalStore
	Providers   driven.ProviderFactory
	Credentials driven.CredentialProvider
	Queue       driven.TaskQueue
	Channels    *ChannelManager

	Backoff BackoffPolicy

	// FullSyncStaleness forces a full pass when the last one is older than
	// this, even if continuation tokens exist.
	FullSyncStaleness time.Duration

	// LivenessTimeout is how long an active status may go without a state
	// write before the run is presumed crashed and the state reclaimable.
	LivenessTimeout time.Duration

	// PageSize is the per-page item cap requested from providers.
	PageSize int64

	Logger *slog.Logger
}

// Orchestrator drives sync runs for one (user, family) pair at a time.
// It owns strategy selection, the page loop, token bookkeeping, and the
// error budget; reconciliation and channel lifecycle are delegated.
type Orchestrator struct {
	states      driven.SyncStateStore
	store       driven.LocalStore
	providers   driven.ProviderFactory
	credentials driven.CredentialProvider
	queue       driven.TaskQueue
	channels    *ChannelManager
	reconciler  *Reconciler

	backoff   BackoffPolicy
	staleness time.Duration
	liveness  time.Duration
	pageSize  int64
	logger    *slog.Logger
}

// NewOrchestrator creates a sync orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backoff == (BackoffPolicy{}) {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	if cfg.FullSyncStaleness <= 0 {
		cfg.FullSyncStaleness = 7 * 24 * time.Hour
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 10 * time.Minute
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	return &Orchestrator{
		states:      cfg.States,
		store:       cfg.Store,
		providers:   cfg.Providers,
		credentials: cfg.Credentials,
		queue:       cfg.Queue,
		channels:    cfg.Channels,
		reconciler:  NewReconciler(cfg.Store, cfg.Logger),
		backoff:     cfg.Backoff,
		staleness:   cfg.FullSyncStaleness,
		liveness:    cfg.LivenessTimeout,
		pageSize:    cfg.PageSize,
		logger:      cfg.Logger,
	}
}

// Run executes one sync pass. Concurrent invocations for the same key are
// serialized through the store's compare-and-set claim: the loser returns a
// skipped result instead of waiting.
func (o *Orchestrator) Run(ctx context.Context, userID string, family domain.ResourceFamily, mode domain.SyncMode) (*domain.SyncResult, error) {
	if userID == "" || !family.Valid() {
		return nil, fmt.Errorf("%w: user %q family %q", domain.ErrInvalidInput, userID, family)
	}

	state, err := o.states.Get(ctx, userID, family)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}

	strategy := o.pickStrategy(state, mode)
	result := &domain.SyncResult{UserID: userID, Family: family, Strategy: strategy}

	claimed, err := o.states.BeginRun(ctx, userID, family, strategy, o.liveness)
	if err != nil {
		return nil, fmt.Errorf("claim sync state: %w", err)
	}
	if !claimed {
		result.Skipped = true
		o.logger.Debug("sync skipped, state not claimable",
			"user_id", userID, "family", family, "status", state.Status)
		return result, nil
	}
	state.Status = strategy

	start := time.Now()
	o.logger.Info("sync started",
		"user_id", userID, "family", family, "strategy", strategy)

	stats := &domain.SyncStats{}
	runErr := o.execute(ctx, state, strategy, stats)
	result.Stats = *stats
	result.Duration = time.Since(start).Seconds()

	if runErr != nil {
		result.Error = runErr.Error()
		o.fail(ctx, state, runErr)
		o.logger.Error("sync failed",
			"user_id", userID, "family", family, "strategy", strategy,
			"error", runErr, "error_count", state.ErrorCount, "status", state.Status)
		return result, runErr
	}

	result.Success = true
	o.logger.Info("sync completed",
		"user_id", userID, "family", family, "strategy", strategy,
		"pages", stats.Pages, "upserted", stats.Upserted, "deleted", stats.Deleted,
		"duration", result.Duration)
	return result, nil
}

// State returns the current sync state.
func (o *Orchestrator) State(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error) {
	if !family.Valid() {
		return nil, fmt.Errorf("%w: family %q", domain.ErrInvalidInput, family)
	}
	return o.states.Get(ctx, userID, family)
}

// Reset clears pause and error bookkeeping so scheduling resumes.
func (o *Orchestrator) Reset(ctx context.Context, userID string, family domain.ResourceFamily) error {
	if !family.Valid() {
		return fmt.Errorf("%w: family %q", domain.ErrInvalidInput, family)
	}
	if err := o.states.Reset(ctx, userID, family); err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	o.logger.Info("sync state reset", "user_id", userID, "family", family)
	return nil
}

// pickStrategy decides full versus incremental. Incremental needs at least
// one continuation token and a full sync fresh enough to trust the tokens'
// coverage; everything else falls back to a full pass.
func (o *Orchestrator) pickStrategy(state *domain.SyncState, mode domain.SyncMode) domain.SyncStatus {
	if mode == domain.SyncModeFull {
		return domain.SyncStatusFullSync
	}

	hasTokens := state.ResourceSyncToken != "" || len(state.SubResourceTokens) > 0
	if !hasTokens || state.FullSyncStale(o.staleness) {
		return domain.SyncStatusFullSync
	}
	return domain.SyncStatusIncremental
}

// execute runs the selected strategy with a provider client.
func (o *Orchestrator) execute(ctx context.Context, state *domain.SyncState, strategy domain.SyncStatus, stats *domain.SyncStats) error {
	accessToken, err := o.credentials.AccessToken(ctx, state.UserID, state.Family)
	if err != nil {
		return fmt.Errorf("fetch access token: %w", err)
	}

	client, err := o.providers.Create(ctx, state.UserID, state.Family, accessToken)
	if err != nil {
		return fmt.Errorf("create provider client: %w", err)
	}

	var subs []*domain.SubResource
	switch strategy {
	case domain.SyncStatusFullSync:
		subs, err = o.runFull(ctx, client, state, stats)
	case domain.SyncStatusIncremental:
		subs, err = o.runIncremental(ctx, client, state, stats)
	default:
		err = fmt.Errorf("%w: strategy %q", domain.ErrInvalidInput, strategy)
	}
	if err != nil {
		return err
	}

	return o.finish(ctx, client, state, strategy, subs, stats)
}

// runFull rebuilds the sub-resource list from the provider, prunes rows the
// provider no longer returns, and pages every syncable sub-resource from
// scratch.
func (o *Orchestrator) runFull(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, stats *domain.SyncStats) ([]*domain.SubResource, error) {
	if err := o.refreshSubResources(ctx, client, state, ""); err != nil {
		return nil, err
	}

	subs, err := o.store.ListSyncableSubResources(ctx, state.UserID, state.Family)
	if err != nil {
		return nil, fmt.Errorf("list syncable sub-resources: %w", err)
	}
	stats.SubResources = len(subs)

	for _, sub := range subs {
		if err := o.syncEntities(ctx, client, state, sub, "", stats); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// runIncremental refreshes the sub-resource list with its continuation token
// when one exists, then fetches each sub-resource's changes with its own
// token. A token the provider rejects is cleared and that sub-resource alone
// falls back to a full fetch; the rejection never touches the error budget.
func (o *Orchestrator) runIncremental(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, stats *domain.SyncStats) ([]*domain.SubResource, error) {
	// Without a list token the locally known sub-resources are trusted;
	// the list is rebuilt on the next full pass.
	if state.ResourceSyncToken != "" {
		err := o.refreshSubResources(ctx, client, state, state.ResourceSyncToken)
		if errors.Is(err, domain.ErrSyncTokenExpired) {
			o.logger.Info("sub-resource list token expired, refetching list",
				"user_id", state.UserID, "family", state.Family)
			state.ResourceSyncToken = ""
			if err := o.states.SaveResourceToken(ctx, state.UserID, state.Family, ""); err != nil {
				return nil, fmt.Errorf("clear resource token: %w", err)
			}
			err = o.refreshSubResources(ctx, client, state, "")
		}
		if err != nil {
			return nil, err
		}
	}

	subs, err := o.store.ListSyncableSubResources(ctx, state.UserID, state.Family)
	if err != nil {
		return nil, fmt.Errorf("list syncable sub-resources: %w", err)
	}
	stats.SubResources = len(subs)

	for _, sub := range subs {
		token := state.TokenFor(sub.ProviderID)
		err := o.syncEntities(ctx, client, state, sub, token, stats)
		if errors.Is(err, domain.ErrSyncTokenExpired) {
			o.logger.Info("sync token expired, refetching sub-resource",
				"user_id", state.UserID, "family", state.Family,
				"sub_resource", sub.ProviderID)
			state.ClearToken(sub.ProviderID)
			if err := o.states.SaveSubResourceToken(ctx, state.UserID, state.Family, sub.ProviderID, ""); err != nil {
				return nil, fmt.Errorf("clear sub-resource token: %w", err)
			}
			err = o.syncEntities(ctx, client, state, sub, "", stats)
		}
		if err != nil {
			return nil, err
		}
	}
	return subs, nil
}

// refreshSubResources pages the provider's sub-resource listing into the
// local store. With an empty token this is the authoritative full list and
// rows absent from it are marked removed; with a token only changed rows come
// back and nothing is pruned.
func (o *Orchestrator) refreshSubResources(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, syncToken string) error {
	opts := driven.ListOptions{SyncToken: syncToken, MaxResults: o.pageSize}
	var seen []string

	for {
		page, err := client.ListSubResources(ctx, opts)
		if err != nil {
			return fmt.Errorf("list sub-resources: %w", err)
		}

		if len(page.Items) > 0 {
			for _, sub := range page.Items {
				sub.UserID = state.UserID
				sub.Family = state.Family
				seen = append(seen, sub.ProviderID)
			}
			if err := o.store.UpsertSubResources(ctx, page.Items); err != nil {
				return fmt.Errorf("upsert sub-resources: %w", err)
			}
		}

		if page.NextSyncToken != "" {
			state.ResourceSyncToken = page.NextSyncToken
			if err := o.states.SaveResourceToken(ctx, state.UserID, state.Family, page.NextSyncToken); err != nil {
				return fmt.Errorf("save resource token: %w", err)
			}
		}

		if page.NextPageToken == "" {
			break
		}
		opts.PageToken = page.NextPageToken
	}

	if syncToken == "" {
		if err := o.store.MarkSubResourcesRemoved(ctx, state.UserID, state.Family, seen); err != nil {
			return fmt.Errorf("mark removed sub-resources: %w", err)
		}
	}
	return nil
}

// syncEntities pages one sub-resource and reconciles each page before
// fetching the next. The continuation token is persisted only when a page
// carries one; providers put it on the terminal page, so an interrupted run
// keeps the old token and re-covers the window on retry.
func (o *Orchestrator) syncEntities(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, sub *domain.SubResource, syncToken string, stats *domain.SyncStats) error {
	opts := driven.ListOptions{SyncToken: syncToken, MaxResults: o.pageSize}

	for {
		page, err := client.ListEntities(ctx, sub.ProviderID, opts)
		if err != nil {
			return fmt.Errorf("list entities %s: %w", sub.ProviderID, err)
		}

		if err := o.reconciler.ApplyPage(ctx, sub, page.Items, stats); err != nil {
			return err
		}

		if page.NextSyncToken != "" {
			state.SetToken(sub.ProviderID, page.NextSyncToken)
			if err := o.states.SaveSubResourceToken(ctx, state.UserID, state.Family, sub.ProviderID, page.NextSyncToken); err != nil {
				return fmt.Errorf("save sub-resource token: %w", err)
			}
		}

		if page.NextPageToken == "" {
			return nil
		}
		opts.PageToken = page.NextPageToken
	}
}

// finish records the successful run and ensures webhook channels. A success
// resets the error budget unconditionally.
func (o *Orchestrator) finish(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, strategy domain.SyncStatus, subs []*domain.SubResource, stats *domain.SyncStats) error {
	if o.channels != nil {
		o.channels.Ensure(ctx, client, state, subs)
	}

	now := time.Now()
	state.Status = domain.SyncStatusIdle
	state.LastSyncAt = &now
	if strategy == domain.SyncStatusFullSync {
		state.LastFullSyncAt = &now
	}
	state.ErrorCount = 0
	state.ErrorMessage = ""
	state.Stats = *stats

	if err := o.states.Save(ctx, state); err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// fail records a failed run. Auth failures pause immediately without
// consuming the error budget; everything else increments the count and
// either pauses at the budget or schedules a delayed retry, honoring a
// provider-suggested wait when the failure was a rate limit.
func (o *Orchestrator) fail(ctx context.Context, state *domain.SyncState, runErr error) {
	state.ErrorMessage = runErr.Error()

	if errors.Is(runErr, domain.ErrAuthFailure) {
		state.Status = domain.SyncStatusPaused
		o.saveFailedState(ctx, state)
		return
	}

	delay := o.backoff.Delay(state.ErrorCount)
	if ra, ok := domain.RetryAfterOf(runErr); ok && ra > 0 {
		delay = ra
	}
	state.ErrorCount++

	if o.backoff.ShouldPause(state.ErrorCount) {
		state.Status = domain.SyncStatusPaused
		o.saveFailedState(ctx, state)
		return
	}

	state.Status = domain.SyncStatusError
	o.saveFailedState(ctx, state)

	if o.queue == nil {
		return
	}
	task := domain.NewSyncTask(state.UserID, state.Family, domain.SyncModeAuto)
	task.ScheduledFor = time.Now().Add(delay)
	if err := o.queue.Enqueue(ctx, task); err != nil {
		o.logger.Error("enqueue retry failed",
			"user_id", state.UserID, "family", state.Family, "error", err)
	}
}

func (o *Orchestrator) saveFailedState(ctx context.Context, state *domain.SyncState) {
	if err := o.states.Save(ctx, state); err != nil {
		o.logger.Error("save failed sync state",
			"user_id", state.UserID, "family", state.Family, "error", err)
	}
}
