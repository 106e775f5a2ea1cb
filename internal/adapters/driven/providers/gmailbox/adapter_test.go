package gmailbox

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/loomworks/aide-sync/internal/core/domain"
)

func TestNormalizeMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		HistoryId:    4711,
		Snippet:      "see you tomorrow",
		InternalDate: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC).UnixMilli(),
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "a@example.com"},
				{Name: "Subject", Value: "lunch plans"},
			},
		},
	}

	item := normalizeMessage(msg, false)

	assert.Equal(t, "m1", item.ProviderID)
	assert.Equal(t, domain.EntityKindMessage, item.Kind)
	assert.Equal(t, int64(4711), item.Sequence)
	assert.Equal(t, "lunch plans", item.Title)
	assert.Equal(t, "see you tomorrow", item.Description)
	assert.Equal(t, 2026, item.UpdatedAt.Year())
	assert.False(t, item.Cancelled())
}

func TestMapError(t *testing.T) {
	// History log truncation comes back as 404
	gone := &googleapi.Error{Code: http.StatusNotFound, Message: "historyId not found"}
	assert.ErrorIs(t, mapError(gone), domain.ErrSyncTokenExpired)

	unauthorized := &googleapi.Error{Code: http.StatusUnauthorized}
	assert.ErrorIs(t, mapError(unauthorized), domain.ErrAuthFailure)

	server := &googleapi.Error{Code: http.StatusInternalServerError}
	assert.ErrorIs(t, mapError(server), domain.ErrProviderUnavailable)

	throttled := mapError(&googleapi.Error{Code: http.StatusTooManyRequests})
	_, ok := domain.RetryAfterOf(throttled)
	require.True(t, ok)
}
