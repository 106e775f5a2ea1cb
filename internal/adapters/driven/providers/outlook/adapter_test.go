package outlook

import (
	"context"
	"testing"
	"time"

	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

func TestNormalizeMessage(t *testing.T) {
	id := "msg-1"
	subject := "quarterly review"
	preview := "agenda attached"
	modified := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)

	msg := models.NewMessage()
	msg.SetId(&id)
	msg.SetSubject(&subject)
	msg.SetBodyPreview(&preview)
	msg.SetLastModifiedDateTime(&modified)

	item := normalizeMessage(msg)

	assert.Equal(t, "msg-1", item.ProviderID)
	assert.Equal(t, domain.EntityKindMessage, item.Kind)
	assert.Equal(t, "quarterly review", item.Title)
	assert.Equal(t, "agenda attached", item.Description)
	assert.Equal(t, modified, item.UpdatedAt)
	assert.Equal(t, modified.UnixMilli(), item.Sequence)
}

func TestNormalizeMessageFallsBackToReceived(t *testing.T) {
	id := "msg-2"
	received := time.Date(2026, 8, 19, 8, 0, 0, 0, time.UTC)

	msg := models.NewMessage()
	msg.SetId(&id)
	msg.SetReceivedDateTime(&received)

	item := normalizeMessage(msg)

	assert.Equal(t, received, item.UpdatedAt)
	assert.Equal(t, received.UnixMilli(), item.Sequence)
}

func TestMapError(t *testing.T) {
	graphErr := func(code int) error {
		e := odataerrors.NewODataError()
		e.ResponseStatusCode = code
		return e
	}

	assert.ErrorIs(t, mapError(graphErr(401)), domain.ErrAuthFailure)
	assert.ErrorIs(t, mapError(graphErr(403)), domain.ErrAuthFailure)
	assert.ErrorIs(t, mapError(graphErr(410)), domain.ErrSyncTokenExpired)
	assert.ErrorIs(t, mapError(graphErr(502)), domain.ErrProviderUnavailable)

	_, throttled := domain.RetryAfterOf(mapError(graphErr(429)))
	require.True(t, throttled)

	other := graphErr(400)
	assert.Equal(t, other, mapError(other))
}

func TestNextWatermarkIsScanStart(t *testing.T) {
	start := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	a := &Adapter{scanStart: start}

	// Messages modified after the scan started must fall on or after the
	// watermark, or the next incremental pass would never see them.
	assert.Equal(t, "2026-08-20T09:00:00Z", a.nextWatermark())
}

func TestNextWatermarkFallsBackToNow(t *testing.T) {
	a := &Adapter{}

	tok := a.nextWatermark()
	parsed, err := time.Parse(time.RFC3339, tok)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestMalformedWatermarkExpiresToken(t *testing.T) {
	a := &Adapter{userID: "u1"}
	_, err := a.ListEntities(context.Background(), inboxSubResource, driven.ListOptions{
		SyncToken: "not-a-timestamp",
	})
	assert.ErrorIs(t, err, domain.ErrSyncTokenExpired)
}
