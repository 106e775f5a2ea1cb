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

func notifyHeaders(channelID, resourceID, state string) map[string][]string {
	return map[string][]string{
		"X-Goog-Channel-Id":     {channelID},
		"X-Goog-Resource-Id":    {resourceID},
		"X-Goog-Resource-State": {state},
		"X-Goog-Message-Number": {"7"},
	}
}

func newNotificationFixture(t *testing.T) (*NotificationHandler, *mocks.MockChannelStore, *mocks.MockTaskQueue) {
	t.Helper()
	channels := mocks.NewMockChannelStore()
	queue := mocks.NewMockTaskQueue()
	h := NewNotificationHandler(NotificationHandlerConfig{
		Channels:       channels,
		Queue:          queue,
		Debouncer:      mocks.NewMockDebouncer(),
		DebounceWindow: time.Minute,
	})
	return h, channels, queue
}

func seedChannel(t *testing.T, channels *mocks.MockChannelStore) *domain.WebhookChannel {
	t.Helper()
	ch := &domain.WebhookChannel{
		ID:            "chan-1",
		UserID:        "u1",
		Family:        domain.ResourceFamilyCalendar,
		SubResourceID: "cal-1",
		ResourceID:    "res-1",
		CreatedAt:     time.Now(),
	}
	require.NoError(t, channels.Save(context.Background(), ch))
	return ch
}

func TestReceiveEnqueuesIncrementalSync(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	err := h.Receive(context.Background(), notifyHeaders("chan-1", "res-1", "exists"))
	require.NoError(t, err)

	tasks := queue.Enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.TaskTypeSyncResource, tasks[0].Type)
	assert.Equal(t, "u1", tasks[0].UserID())
	assert.Equal(t, domain.ResourceFamilyCalendar, tasks[0].Family())
	assert.Equal(t, domain.SyncModeIncremental, tasks[0].Mode())
}

func TestReceiveCaseInsensitiveHeaders(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	headers := map[string][]string{
		"x-goog-channel-id":     {"chan-1"},
		"X-GOOG-RESOURCE-ID":    {"res-1"},
		"x-Goog-Resource-State": {"EXISTS"},
	}
	require.NoError(t, h.Receive(context.Background(), headers))
	assert.Len(t, queue.Enqueued(), 1)
}

func TestReceiveIgnoresHandshake(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	err := h.Receive(context.Background(), notifyHeaders("chan-1", "res-1", "sync"))
	require.NoError(t, err)
	assert.Empty(t, queue.Enqueued())
}

func TestReceiveRejectsUnknownChannel(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	err := h.Receive(context.Background(), notifyHeaders("chan-other", "res-1", "exists"))
	assert.ErrorIs(t, err, domain.ErrChannelUnknown)
	assert.Empty(t, queue.Enqueued())
}

func TestReceiveRejectsResourceMismatch(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	err := h.Receive(context.Background(), notifyHeaders("chan-1", "res-wrong", "exists"))
	assert.ErrorIs(t, err, domain.ErrChannelUnknown)
	assert.Empty(t, queue.Enqueued())
}

func TestReceiveRejectsMissingHeaders(t *testing.T) {
	h, _, queue := newNotificationFixture(t)

	err := h.Receive(context.Background(), map[string][]string{
		"X-Goog-Resource-State": {"exists"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, queue.Enqueued())
}

func TestReceiveRejectsMissingState(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)

	err := h.Receive(context.Background(), map[string][]string{
		"X-Goog-Channel-Id":  {"chan-1"},
		"X-Goog-Resource-Id": {"res-1"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, queue.Enqueued())
}

func TestReceiveDebouncesBursts(t *testing.T) {
	h, channels, queue := newNotificationFixture(t)
	seedChannel(t, channels)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Receive(ctx, notifyHeaders("chan-1", "res-1", "exists")))
	}
	assert.Len(t, queue.Enqueued(), 1)
}

func TestReceiveSyncsWhenDebouncerFails(t *testing.T) {
	channels := mocks.NewMockChannelStore()
	queue := mocks.NewMockTaskQueue()
	deb := mocks.NewMockDebouncer()
	deb.AllowErr = assert.AnError
	h := NewNotificationHandler(NotificationHandlerConfig{
		Channels:  channels,
		Queue:     queue,
		Debouncer: deb,
	})
	seedChannel(t, channels)

	require.NoError(t, h.Receive(context.Background(), notifyHeaders("chan-1", "res-1", "exists")))
	assert.Len(t, queue.Enqueued(), 1)
}
