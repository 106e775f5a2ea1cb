package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// ChannelManagerConfig configures the webhook channel lifecycle.
type ChannelManagerConfig struct {
	Channels driven.ChannelStore

	// CallbackBaseURL is the public base URL notifications are delivered
	// to; the family path segment is appended per channel.
	CallbackBaseURL string

	// RenewalBuffer is how long before expiry a channel is re-registered.
	RenewalBuffer time.Duration

	Logger *slog.Logger
}

// ChannelManager registers, renews, and stops provider webhook channels.
// Everything here is best-effort: a provider that refuses a watch request
// degrades the resource to periodic polling, it never fails a sync run.
type ChannelManager struct {
	channels driven.ChannelStore
	baseURL  string
	buffer   time.Duration
	logger   *slog.Logger
}

// NewChannelManager creates a channel manager.
func NewChannelManager(cfg ChannelManagerConfig) *ChannelManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RenewalBuffer <= 0 {
		cfg.RenewalBuffer = time.Hour
	}
	return &ChannelManager{
		channels: cfg.Channels,
		baseURL:  cfg.CallbackBaseURL,
		buffer:   cfg.RenewalBuffer,
		logger:   cfg.Logger,
	}
}

// NeedsRenewal reports whether a channel expiring at the given time must be
// re-registered. Channels without an expiry never need renewal; an expiry in
// the past or within the buffer does.
func (m *ChannelManager) NeedsRenewal(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return false
	}
	return time.Until(*expiresAt) <= m.buffer
}

// Ensure makes sure every syncable sub-resource has a live channel,
// registering missing ones and renewing those near expiry. The first live
// channel is mirrored onto the sync state for operator visibility. Failures
// are logged and skipped.
func (m *ChannelManager) Ensure(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, subs []*domain.SubResource) {
	if m.baseURL == "" {
		return
	}

	for _, sub := range subs {
		ch, err := m.ensureOne(ctx, client, state, sub)
		if err != nil {
			m.logger.Warn("webhook channel setup failed",
				"user_id", state.UserID,
				"family", state.Family,
				"sub_resource", sub.ProviderID,
				"error", err,
			)
			continue
		}
		if state.WebhookChannelID == "" || state.WebhookChannelID == ch.ID {
			state.WebhookChannelID = ch.ID
			state.WebhookResourceID = ch.ResourceID
			state.WebhookExpiresAt = ch.ExpiresAt
		}
	}
}

func (m *ChannelManager) ensureOne(ctx context.Context, client driven.ProviderClient, state *domain.SyncState, sub *domain.SubResource) (*domain.WebhookChannel, error) {
	existing, err := m.channels.GetBySubResource(ctx, state.UserID, state.Family, sub.ProviderID)
	switch {
	case err == nil:
		if !m.NeedsRenewal(existing.ExpiresAt) {
			return existing, nil
		}
		m.Stop(ctx, client, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("lookup channel: %w", err)
	}

	return m.Register(ctx, client, state.UserID, state.Family, sub)
}

// Register creates a new channel for a sub-resource and persists it.
func (m *ChannelManager) Register(ctx context.Context, client driven.ProviderClient, userID string, family domain.ResourceFamily, sub *domain.SubResource) (*domain.WebhookChannel, error) {
	callback := fmt.Sprintf("%s/webhooks/%s", m.baseURL, family)

	ch, err := client.Watch(ctx, sub.ProviderID, callback)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", sub.ProviderID, err)
	}

	ch.UserID = userID
	ch.Family = family
	ch.SubResourceID = sub.ProviderID
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}

	if err := m.channels.Save(ctx, ch); err != nil {
		return nil, fmt.Errorf("save channel: %w", err)
	}

	m.logger.Info("webhook channel registered",
		"user_id", userID,
		"family", family,
		"sub_resource", sub.ProviderID,
		"channel_id", ch.ID,
	)
	return ch, nil
}

// Stop tears down a channel with the provider and removes the local row.
// Best-effort on both sides.
func (m *ChannelManager) Stop(ctx context.Context, client driven.ProviderClient, ch *domain.WebhookChannel) {
	if err := client.StopWatch(ctx, ch.ID, ch.ResourceID); err != nil {
		m.logger.Warn("stop watch failed", "channel_id", ch.ID, "error", err)
	}
	if err := m.channels.Delete(ctx, ch.ID); err != nil {
		m.logger.Warn("delete channel failed", "channel_id", ch.ID, "error", err)
	}
}
