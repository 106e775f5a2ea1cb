// Package googlecal adapts the Google Calendar API to the provider port.
package googlecal

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderClient = (*Adapter)(nil)

// Adapter implements ProviderClient for Google Calendar. Sub-resources are
// the user's calendars; entities are events. Both listings support sync
// tokens, delivered on the terminal page only.
type Adapter struct {
	svc *calendar.Service
}

// New creates a Google Calendar adapter authenticated with a bearer token.
func New(ctx context.Context, accessToken string) (*Adapter, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &Adapter{svc: svc}, nil
}

// Family returns the calendar resource family.
func (a *Adapter) Family() domain.ResourceFamily {
	return domain.ResourceFamilyCalendar
}

// ListSubResources lists one page of the user's calendar list.
func (a *Adapter) ListSubResources(ctx context.Context, opts driven.ListOptions) (*domain.SubResourcePage, error) {
	call := a.svc.CalendarList.List().Context(ctx)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.SyncToken != "" {
		call = call.SyncToken(opts.SyncToken)
	}
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}

	list, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.SubResourcePage{
		NextPageToken: list.NextPageToken,
		NextSyncToken: list.NextSyncToken,
	}
	for _, entry := range list.Items {
		page.Items = append(page.Items, &domain.SubResource{
			ProviderID: entry.Id,
			Name:       entry.Summary,
			OwnerEmail: entry.Id,
			IsSelected: entry.Selected,
			IsPrimary:  entry.Primary,
			IsHidden:   entry.Hidden,
			IsRemoved:  entry.Deleted,
		})
	}
	return page, nil
}

// ListEntities lists one page of events for a calendar.
func (a *Adapter) ListEntities(ctx context.Context, subResourceID string, opts driven.ListOptions) (*domain.EntityPage, error) {
	call := a.svc.Events.List(subResourceID).Context(ctx).ShowDeleted(true)
	if opts.PageToken != "" {
		call = call.PageToken(opts.PageToken)
	}
	if opts.SyncToken != "" {
		call = call.SyncToken(opts.SyncToken)
	}
	if opts.MaxResults > 0 {
		call = call.MaxResults(opts.MaxResults)
	}

	events, err := call.Do()
	if err != nil {
		return nil, mapError(err)
	}

	page := &domain.EntityPage{
		NextPageToken: events.NextPageToken,
		NextSyncToken: events.NextSyncToken,
	}
	for _, ev := range events.Items {
		page.Items = append(page.Items, normalizeEvent(ev))
	}
	return page, nil
}

// Watch registers a push channel for a calendar's events.
func (a *Adapter) Watch(ctx context.Context, subResourceID, callbackURL string) (*domain.WebhookChannel, error) {
	req := &calendar.Channel{
		Id:      uuid.NewString(),
		Type:    "web_hook",
		Address: callbackURL,
	}

	ch, err := a.svc.Events.Watch(subResourceID, req).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}

	out := &domain.WebhookChannel{
		ID:         ch.Id,
		ResourceID: ch.ResourceId,
		CreatedAt:  time.Now(),
	}
	if ch.Expiration > 0 {
		exp := time.UnixMilli(ch.Expiration)
		out.ExpiresAt = &exp
	}
	return out, nil
}

// StopWatch tears down a push channel.
func (a *Adapter) StopWatch(ctx context.Context, channelID, resourceID string) error {
	err := a.svc.Channels.Stop(&calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return mapError(err)
	}
	return nil
}

// normalizeEvent converts a calendar event to the provider-neutral shape.
// The sequence is the update timestamp in milliseconds: the API's own
// sequence field only moves on invite-significant changes, while updated
// moves on every edit, which is what staleness detection needs.
func normalizeEvent(ev *calendar.Event) *domain.ProviderEntity {
	item := &domain.ProviderEntity{
		ProviderID:        ev.Id,
		Kind:              domain.EntityKindEvent,
		Status:            ev.Status,
		Deleted:           ev.Status == "cancelled",
		Title:             ev.Summary,
		Description:       ev.Description,
		Location:          ev.Location,
		RecurrenceRules:   ev.Recurrence,
		RecurringParentID: ev.RecurringEventId,
	}

	if updated, err := time.Parse(time.RFC3339, ev.Updated); err == nil {
		item.UpdatedAt = updated
		item.Sequence = updated.UnixMilli()
	} else {
		item.Sequence = ev.Sequence
	}

	item.StartsAt = eventTime(ev.Start)
	item.EndsAt = eventTime(ev.End)

	for _, att := range ev.Attendees {
		item.Attendees = append(item.Attendees, domain.ProviderAttendee{
			Email:          att.Email,
			DisplayName:    att.DisplayName,
			ResponseStatus: att.ResponseStatus,
			Self:           att.Self,
			Organizer:      att.Organizer,
		})
	}

	if ev.ConferenceData != nil {
		for _, ep := range ev.ConferenceData.EntryPoints {
			item.EntryPoints = append(item.EntryPoints, domain.EntryPoint{
				Type: ep.EntryPointType,
				URI:  ep.Uri,
			})
		}
	}

	return item
}

// eventTime resolves a calendar event boundary, which is either a timestamp
// or an all-day date.
func eventTime(edt *calendar.EventDateTime) *time.Time {
	if edt == nil {
		return nil
	}
	if edt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, edt.DateTime); err == nil {
			return &t
		}
	}
	if edt.Date != "" {
		if t, err := time.Parse("2006-01-02", edt.Date); err == nil {
			return &t
		}
	}
	return nil
}

// mapError translates Google API errors into the engine's taxonomy.
func mapError(err error) error {
	gerr, ok := err.(*googleapi.Error)
	if !ok {
		return err
	}

	switch {
	case gerr.Code == http.StatusGone:
		// The API signals an invalid sync token with 410 GONE.
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
