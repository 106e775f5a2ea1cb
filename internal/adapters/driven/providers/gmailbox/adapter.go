// Package gmailbox adapts the Gmail API to the provider port.
package gmailbox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderClient = (*Adapter)(nil)

// primarySubResource is the single mailbox sub-resource id. Gmail has no
// calendar-list equivalent; the mailbox itself is the unit of sync, with
// labels carried on each message.
const primarySubResource = "primary"

// Adapter implements ProviderClient for Gmail. Full scans page the message
// list; incremental sync replays the history log from the stored history id,
// which serves as the sync token.
type Adapter struct {
	svc *gmail.Service

	// pubsubTopic receives push notifications; Gmail only pushes through
	// Cloud Pub/Sub, the topic's subscription forwards to the callback URL.
	pubsubTopic string
}

// New creates a Gmail adapter authenticated with a bearer token.
func New(ctx context.Context, accessToken, pubsubTopic string) (*Adapter, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gmail.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}
	return &Adapter{svc: svc, pubsubTopic: pubsubTopic}, nil
}

// Family returns the mailbox resource family.
func (a *Adapter) Family() domain.ResourceFamily {
	return domain.ResourceFamilyMailbox
}

// ListSubResources returns the single primary mailbox.
func (a *Adapter) ListSubResources(ctx context.Context, opts driven.ListOptions) (*domain.SubResourcePage, error) {
	profile, err := a.svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	return &domain.SubResourcePage{
		Items: []*domain.SubResource{{
			ProviderID: primarySubResource,
			Name:       profile.EmailAddress,
			OwnerEmail: profile.EmailAddress,
			IsPrimary:  true,
		}},
	}, nil
}

// ListEntities lists one page of messages. With a sync token the history log
// is replayed; without one the full message list is paged and the current
// history id becomes the token on the terminal page.
func (a *Adapter) ListEntities(ctx context.Context, subResourceID string, opts driven.ListOptions) (*domain.EntityPage, error) {
	if opts.SyncToken != "" {
		return a.listHistory(ctx, opts)
	}
	return a.listMessages(ctx, opts)
}

func (a *Adapter) listMessages(ctx context.Context, opts driven.ListOptions) (*domain.EntityPage, error) {
	call := a.svc.Users.Messages.List("me").Context(ctx).IncludeSpamTrash(false)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}

	list, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.EntityPage{NextPageToken: list.NextPageToken}
	for _, ref := range list.Messages {
		msg, err := a.svc.Users.Messages.Get("me", ref.Id).Format("metadata").Context(ctx).Do()
		if err != nil {
			if notFound(err) {
				// Deleted between list and fetch
				continue
			}
			return nil, mapError(err)
		}
		page.Items = append(page.Items, normalizeMessage(msg, false))
	}

	// The history id anchors incremental sync from this point on; it only
	// goes out with the terminal page so an interrupted scan restarts clean.
	if list.NextPageToken == "" {
		profile, err := a.svc.Users.GetProfile("me").Context(ctx).Do()
		if err != nil {
			return nil, mapError(err)
		}
		page.NextSyncToken = strconv.FormatUint(profile.HistoryId, 10)
	}

	return page, nil
}

func (a *Adapter) listHistory(ctx context.Context, opts driven.ListOptions) (*domain.EntityPage, error) {
	startID, err := strconv.ParseUint(opts.SyncToken, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed history id %q", domain.ErrSyncTokenExpired, opts.SyncToken)
	}

	call := a.svc.Users.History.List("me").Context(ctx).StartHistoryId(startID)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}

	list, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.EntityPage{NextPageToken: list.NextPageToken}
	seen := map[string]bool{}

	for _, h := range list.History {
		for _, added := range h.MessagesAdded {
			if added.Message == nil || seen[added.Message.Id] {
				continue
			}
			seen[added.Message.Id] = true

			msg, err := a.svc.Users.Messages.Get("me", added.Message.Id).Format("metadata").Context(ctx).Do()
			if err != nil {
				if notFound(err) {
					// Deleted between history write and fetch
					continue
				}
				return nil, mapError(err)
			}
			page.Items = append(page.Items, normalizeMessage(msg, false))
		}
		for _, deleted := range h.MessagesDeleted {
			if deleted.Message == nil || seen[deleted.Message.Id] {
				continue
			}
			seen[deleted.Message.Id] = true
			page.Items = append(page.Items, &domain.ProviderEntity{
				ProviderID: deleted.Message.Id,
				Kind:       domain.EntityKindMessage,
				Deleted:    true,
				Sequence:   int64(h.Id),
			})
		}
	}

	if list.NextPageToken == "" && list.HistoryId > 0 {
		page.NextSyncToken = strconv.FormatUint(list.HistoryId, 10)
	}

	return page, nil
}

// Watch registers Gmail push notifications through the configured Pub/Sub
// topic. The returned channel id is synthetic: Gmail echoes no channel, so
// notification authentication leans on the resource id alone.
func (a *Adapter) Watch(ctx context.Context, subResourceID, callbackURL string) (*domain.WebhookChannel, error) {
	if a.pubsubTopic == "" {
		return nil, fmt.Errorf("%w: no pubsub topic configured", domain.ErrProviderUnavailable)
	}

	resp, err := a.svc.Users.Watch("me", &gmail.WatchRequest{
		TopicName:         a.pubsubTopic,
		LabelIds:          []string{"INBOX"},
		LabelFilterAction: "include",
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	ch := &domain.WebhookChannel{
		ID:         uuid.NewString(),
		ResourceID: strconv.FormatUint(resp.HistoryId, 10),
		CreatedAt:  time.Now(),
	}
	if resp.Expiration > 0 {
		exp := time.UnixMilli(resp.Expiration)
		ch.ExpiresAt = &exp
	}
	return ch, nil
}

// StopWatch stops Gmail push notifications for the account.
func (a *Adapter) StopWatch(ctx context.Context, channelID, resourceID string) error {
	if err := a.svc.Users.Stop("me").Context(ctx).Do(); err != nil {
		return mapError(err)
	}
	return nil
}

// normalizeMessage converts a Gmail message to the provider-neutral shape.
// The message's own history id is the sequence: Gmail bumps it on every
// mutation, so it is monotonic per message.
func normalizeMessage(m *gmail.Message, deleted bool) *domain.ProviderEntity {
	item := &domain.ProviderEntity{
		ProviderID:  m.Id,
		Kind:        domain.EntityKindMessage,
		Deleted:     deleted,
		Sequence:    int64(m.HistoryId),
		Description: m.Snippet,
	}

	if m.InternalDate > 0 {
		item.UpdatedAt = time.UnixMilli(m.InternalDate)
	}

	if m.Payload != nil {
		for _, h := range m.Payload.Headers {
			if h.Name == "Subject" {
				item.Title = h.Value
				break
			}
		}
	}

	return item
}

// mapError translates Gmail API errors into the engine's taxonomy. A 404 on
// the history list means the start history id fell off the log and the
// mailbox must be rescanned.
func mapError(err error) error {
	gerr, ok := err.(*googleapi.Error)
	if !ok {
		return err
	}

	switch {
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrSyncTokenExpired, gerr.Message)
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrAuthFailure, gerr.Message)
	case gerr.Code == http.StatusTooManyRequests, isRateLimited(gerr):
		return &domain.RateLimitError{RetryAfter: retryAfter(gerr)}
	case gerr.Code >= 500:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnavailable, gerr.Message)
	}
	return err
}

func notFound(err error) bool {
	gerr, ok := err.(*googleapi.Error)
	return ok && gerr.Code == http.StatusNotFound
}

func isRateLimited(gerr *googleapi.Error) bool {
	if gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return false
}

func retryAfter(gerr *googleapi.Error) time.Duration {
	if gerr.Header == nil {
		return 0
	}
	if v := gerr.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
