package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
	"github.com/loomworks/aide-sync/internal/core/ports/driving"
)

// Ensure NotificationHandler implements the driving port
var _ driving.WebhookReceiver = (*NotificationHandler)(nil)

// NotificationHandlerConfig configures inbound push handling.
type NotificationHandlerConfig struct {
	Channels  driven.ChannelStore
	Queue     driven.TaskQueue
	Debouncer driven.NotificationDebouncer

	// DebounceWindow collapses notification bursts for one channel into a
	// single sync trigger.
	DebounceWindow time.Duration

	Logger *slog.Logger
}

// NotificationHandler turns provider push notifications into sync tasks.
// A notification authenticates by its channel and resource id pair matching
// a registered channel; anything else is dropped. The caller answers 200
// regardless so the provider never suspends the channel.
type NotificationHandler struct {
	channels  driven.ChannelStore
	queue     driven.TaskQueue
	debouncer driven.NotificationDebouncer
	window    time.Duration
	logger    *slog.Logger
}

// NewNotificationHandler creates a notification handler.
func NewNotificationHandler(cfg NotificationHandlerConfig) *NotificationHandler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 5 * time.Second
	}
	return &NotificationHandler{
		channels:  cfg.Channels,
		queue:     cfg.Queue,
		debouncer: cfg.Debouncer,
		window:    cfg.DebounceWindow,
		logger:    cfg.Logger,
	}
}

// Receive validates one push notification and enqueues an incremental sync
// for the channel's owner. The returned error is diagnostic only.
func (h *NotificationHandler) Receive(ctx context.Context, headers map[string][]string) error {
	note, err := ParseNotification(headers)
	if err != nil {
		return err
	}

	// The creation handshake carries no change.
	if note.State == domain.ResourceStateSync {
		h.logger.Debug("webhook handshake", "channel_id", note.ChannelID)
		return nil
	}

	ch, err := h.channels.Get(ctx, note.ChannelID)
	if err != nil {
		return fmt.Errorf("%w: channel %s", domain.ErrChannelUnknown, note.ChannelID)
	}
	if ch.ResourceID != note.ResourceID {
		return fmt.Errorf("%w: resource id mismatch for channel %s", domain.ErrChannelUnknown, note.ChannelID)
	}

	if h.debouncer != nil {
		allowed, err := h.debouncer.Allow(ctx, "notify:"+ch.ID, h.window)
		if err != nil {
			// Debounce is an optimization: on backend trouble, sync anyway.
			h.logger.Warn("debounce check failed", "channel_id", ch.ID, "error", err)
		} else if !allowed {
			h.logger.Debug("notification debounced", "channel_id", ch.ID)
			return nil
		}
	}

	task := domain.NewSyncTask(ch.UserID, ch.Family, domain.SyncModeIncremental)
	if err := h.queue.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("enqueue sync: %w", err)
	}

	h.logger.Info("webhook notification accepted",
		"channel_id", ch.ID,
		"user_id", ch.UserID,
		"family", ch.Family,
		"state", note.State,
		"message_number", note.MessageNumber,
	)
	return nil
}

// ParseNotification extracts the notification fields from request headers.
// Header names match case-insensitively; both Google-style X-Goog-* names
// and the generic X-Channel-* names are accepted.
func ParseNotification(headers map[string][]string) (*domain.Notification, error) {
	note := &domain.Notification{
		ChannelID:  headerValue(headers, "X-Goog-Channel-Id", "X-Channel-Id"),
		ResourceID: headerValue(headers, "X-Goog-Resource-Id", "X-Resource-Id"),
		State:      domain.ResourceState(strings.ToLower(headerValue(headers, "X-Goog-Resource-State", "X-Resource-State"))),
	}
	if n := headerValue(headers, "X-Goog-Message-Number", "X-Message-Number"); n != "" {
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			note.MessageNumber = parsed
		}
	}

	if note.ChannelID == "" || note.ResourceID == "" || note.State == "" {
		return nil, fmt.Errorf("%w: missing channel id, resource id, or state header", domain.ErrInvalidInput)
	}
	return note, nil
}

func headerValue(headers map[string][]string, names ...string) string {
	for key, values := range headers {
		for _, name := range names {
			if strings.EqualFold(key, name) && len(values) > 0 {
				return values[0]
			}
		}
	}
	return ""
}
