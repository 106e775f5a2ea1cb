// Package outlook adapts the Microsoft Graph mail API to the provider port.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderClient = (*Adapter)(nil)

// inboxSubResource is the single mailbox sub-resource id.
const inboxSubResource = "inbox"

var messageSelect = []string{
	"id", "subject", "bodyPreview", "receivedDateTime",
	"lastModifiedDateTime", "isDraft",
}

// Adapter implements ProviderClient for Outlook mail via Microsoft Graph.
// Graph has no opaque sync token on the plain messages endpoint; the
// adapter uses a lastModifiedDateTime watermark as the token and pages with
// the OData next link.
type Adapter struct {
	client *msgraphsdk.GraphServiceClient
	userID string

	// scanStart is captured when the first page of a scan is requested and
	// becomes the watermark on the terminal page. Messages modified while
	// later pages were being fetched then fall on or after the watermark
	// and are re-delivered by the next incremental pass; the store's
	// sequence guard absorbs the overlap.
	scanStart time.Time
}

// New creates an Outlook adapter authenticated with a bearer token.
func New(ctx context.Context, accessToken, userID string) (*Adapter, error) {
	cred := &staticTokenCredential{token: accessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	return &Adapter{
		client: client,
		userID: userID,
	}, nil
}

// Family returns the mailbox resource family.
func (a *Adapter) Family() domain.ResourceFamily {
	return domain.ResourceFamilyMailbox
}

// ListSubResources returns the single inbox.
func (a *Adapter) ListSubResources(ctx context.Context, opts driven.ListOptions) (*domain.SubResourcePage, error) {
	user, err := a.client.Users().ByUserId(a.userID).Get(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}

	sub := &domain.SubResource{
		ProviderID: inboxSubResource,
		IsPrimary:  true,
	}
	if mail := user.GetMail(); mail != nil {
		sub.Name = *mail
		sub.OwnerEmail = *mail
	}

	return &domain.SubResourcePage{Items: []*domain.SubResource{sub}}, nil
}

// ListEntities lists one page of messages. The sync token is an RFC 3339
// watermark: incremental fetches filter on lastModifiedDateTime and the
// terminal page carries the new watermark.
func (a *Adapter) ListEntities(ctx context.Context, subResourceID string, opts driven.ListOptions) (*domain.EntityPage, error) {
	var result models.MessageCollectionResponseable
	var err error

	if opts.PageToken != "" {
		builder := users.NewItemMessagesRequestBuilder(opts.PageToken, a.client.GetAdapter())
		result, err = builder.Get(ctx, nil)
	} else {
		a.scanStart = time.Now().UTC()
		cfg := &users.ItemMessagesRequestBuilderGetRequestConfiguration{
			QueryParameters: &users.ItemMessagesRequestBuilderGetQueryParameters{
				Select:  messageSelect,
				Orderby: []string{"lastModifiedDateTime asc"},
			},
		}
		if opts.MaxResults > 0 {
			top := int32(opts.MaxResults)
			cfg.QueryParameters.Top = &top
		}
		if opts.SyncToken != "" {
			if _, perr := time.Parse(time.RFC3339, opts.SyncToken); perr != nil {
				return nil, fmt.Errorf("%w: malformed watermark %q", domain.ErrSyncTokenExpired, opts.SyncToken)
			}
			filter := fmt.Sprintf("lastModifiedDateTime ge %s", opts.SyncToken)
			cfg.QueryParameters.Filter = &filter
		}
		result, err = a.client.Users().ByUserId(a.userID).Messages().Get(ctx, cfg)
	}
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.EntityPage{}
	if next := result.GetOdataNextLink(); next != nil {
		page.NextPageToken = *next
	}

	for _, msg := range result.GetValue() {
		page.Items = append(page.Items, normalizeMessage(msg))
	}

	if page.NextPageToken == "" {
		page.NextSyncToken = a.nextWatermark()
	}

	return page, nil
}

// nextWatermark is the sync token for a finished scan: the instant the scan
// started, never the instant the terminal page was built.
func (a *Adapter) nextWatermark() string {
	if a.scanStart.IsZero() {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return a.scanStart.Format(time.RFC3339)
}

// Watch creates a Graph change subscription for the mailbox.
func (a *Adapter) Watch(ctx context.Context, subResourceID, callbackURL string) (*domain.WebhookChannel, error) {
	// Graph caps mail subscriptions at roughly three days.
	expiry := time.Now().Add(71 * time.Hour)

	sub := models.NewSubscription()
	changeType := "created,updated,deleted"
	resource := fmt.Sprintf("/users/%s/messages", a.userID)
	sub.SetChangeType(&changeType)
	sub.SetNotificationUrl(&callbackURL)
	sub.SetResource(&resource)
	sub.SetExpirationDateTime(&expiry)

	created, err := a.client.Subscriptions().Post(ctx, sub, nil)
	if err != nil {
		return nil, mapError(err)
	}

	ch := &domain.WebhookChannel{
		CreatedAt: time.Now(),
	}
	if id := created.GetId(); id != nil {
		ch.ID = *id
		ch.ResourceID = *id
	}
	if exp := created.GetExpirationDateTime(); exp != nil {
		ch.ExpiresAt = exp
	}
	return ch, nil
}

// StopWatch deletes the Graph change subscription.
func (a *Adapter) StopWatch(ctx context.Context, channelID, resourceID string) error {
	err := a.client.Subscriptions().BySubscriptionId(channelID).Delete(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// normalizeMessage converts a Graph message to the provider-neutral shape.
// The last-modified timestamp doubles as the sequence.
func normalizeMessage(m models.Messageable) *domain.ProviderEntity {
	item := &domain.ProviderEntity{
		Kind: domain.EntityKindMessage,
	}

	if id := m.GetId(); id != nil {
		item.ProviderID = *id
	}
	if subject := m.GetSubject(); subject != nil {
		item.Title = *subject
	}
	if preview := m.GetBodyPreview(); preview != nil {
		item.Description = *preview
	}
	if modified := m.GetLastModifiedDateTime(); modified != nil {
		item.UpdatedAt = *modified
		item.Sequence = modified.UnixMilli()
	} else if received := m.GetReceivedDateTime(); received != nil {
		item.UpdatedAt = *received
		item.Sequence = received.UnixMilli()
	}

	return item
}

// mapError translates Graph errors into the engine's taxonomy.
func mapError(err error) error {
	var odataErr *odataerrors.ODataError
	if !errors.As(err, &odataErr) {
		return err
	}

	code := odataErr.ResponseStatusCode
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("%w: graph status %d", domain.ErrAuthFailure, code)
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitError{}
	case code == http.StatusGone:
		return fmt.Errorf("%w: graph status %d", domain.ErrSyncTokenExpired, code)
	case code >= 500:
		return fmt.Errorf("%w: graph status %d", domain.ErrProviderUnavailable, code)
	}
	return err
}

// staticTokenCredential satisfies the Azure credential interface with a
// broker-issued bearer token.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}
