package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Reconciler maps one page of provider records onto the local store:
// cancelled records become soft-deletes, everything else an upsert guarded
// by the provider's sequence counter. A record that fails to normalize is
// skipped and counted; a page never aborts for one bad record.
type Reconciler struct {
	store  driven.LocalStore
	logger *slog.Logger
}

// NewReconciler creates a reconciler writing through the given local store.
func NewReconciler(store driven.LocalStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, logger: logger}
}

// ApplyPage reconciles one provider page for a sub-resource and updates the
// run's stats. The page is persisted in full before the caller fetches the
// next one, bounding memory and loss-on-crash to a single page.
func (r *Reconciler) ApplyPage(ctx context.Context, sub *domain.SubResource, items []*domain.ProviderEntity, stats *domain.SyncStats) error {
	deletes := map[domain.EntityKind][]string{}
	upserts := make([]*domain.EntityRecord, 0, len(items))

	for _, item := range items {
		if item.ProviderID == "" {
			stats.RecordErrors++
			r.logger.Warn("skipping record without provider id",
				"user_id", sub.UserID,
				"sub_resource", sub.ProviderID,
			)
			continue
		}

		if item.Cancelled() {
			kind := item.Kind
			if kind == "" {
				kind = sub.Family.EntityKind()
			}
			deletes[kind] = append(deletes[kind], item.ProviderID)
			continue
		}

		rec, err := r.normalize(sub, item)
		if err != nil {
			stats.RecordErrors++
			r.logger.Warn("skipping record that failed to normalize",
				"user_id", sub.UserID,
				"sub_resource", sub.ProviderID,
				"provider_id", item.ProviderID,
				"error", err,
			)
			continue
		}
		upserts = append(upserts, rec)
	}

	if len(upserts) > 0 {
		applied, err := r.store.UpsertEntities(ctx, upserts)
		if err != nil {
			return fmt.Errorf("upsert entities: %w", err)
		}
		stats.Upserted += applied
		stats.StaleDropped += len(upserts) - applied
	}

	for kind, ids := range deletes {
		if err := r.store.SoftDeleteEntities(ctx, sub.UserID, sub.ProviderID, kind, ids); err != nil {
			return fmt.Errorf("soft delete entities: %w", err)
		}
		stats.Deleted += len(ids)
	}

	stats.Pages++
	return nil
}

// normalize turns a provider record into the stable internal shape:
// attendees flattened with self-identification and a response tally, the
// meeting URL pulled out of the typed entry-point list, and the
// master/instance distinction decided by the two-field recurrence check.
func (r *Reconciler) normalize(sub *domain.SubResource, item *domain.ProviderEntity) (*domain.EntityRecord, error) {
	kind := item.Kind
	if kind == "" {
		return nil, fmt.Errorf("record %s has no kind", item.ProviderID)
	}

	rec := &domain.EntityRecord{
		UserID:        sub.UserID,
		SubResourceID: sub.ProviderID,
		ProviderID:    item.ProviderID,
		Kind:          kind,
		Status:        domain.EntityStatusActive,
		Sequence:      item.Sequence,
		UpdatedAt:     item.UpdatedAt,
		Title:         item.Title,
		Description:   item.Description,
		Location:      item.Location,
		StartsAt:      item.StartsAt,
		EndsAt:        item.EndsAt,
		Payload:       item.Payload,
	}

	rec.Attendees, rec.Responses, rec.SelfResponse = normalizeAttendees(sub, item.Attendees)
	rec.MeetingURL = meetingURL(item.EntryPoints)

	// A master has recurrence rules and no parent; an instance has a parent
	// and no rules of its own. The engine stores both as-is and never
	// expands recurrence: when the provider sends instances they are
	// trusted, otherwise consumers interpret the rule set.
	rec.RecurringParentID = item.RecurringParentID
	if item.RecurringParentID == "" && len(item.RecurrenceRules) > 0 {
		rec.IsRecurringMaster = true
		rec.RecurrenceRules = item.RecurrenceRules
	}

	return rec, nil
}

// normalizeAttendees flattens the participant list, identifies the syncing
// user by the provider self flag or the sub-resource owner email, and
// tallies response statuses.
func normalizeAttendees(sub *domain.SubResource, in []domain.ProviderAttendee) ([]domain.Attendee, domain.ResponseTally, string) {
	if len(in) == 0 {
		return nil, domain.ResponseTally{}, ""
	}

	out := make([]domain.Attendee, 0, len(in))
	var tally domain.ResponseTally
	selfResponse := ""

	for _, a := range in {
		att := domain.Attendee{
			Email:          a.Email,
			DisplayName:    a.DisplayName,
			ResponseStatus: a.ResponseStatus,
			Self:           a.Self,
			Organizer:      a.Organizer,
		}
		if !att.Self && sub.OwnerEmail != "" && strings.EqualFold(a.Email, sub.OwnerEmail) {
			att.Self = true
		}
		if att.Self {
			selfResponse = a.ResponseStatus
		}

		switch a.ResponseStatus {
		case "accepted":
			tally.Accepted++
		case "declined":
			tally.Declined++
		case "tentative":
			tally.Tentative++
		default:
			tally.NeedsAction++
		}

		out = append(out, att)
	}

	return out, tally, selfResponse
}

// meetingURL extracts the joinable URL from a typed entry-point list,
// preferring video entry points.
func meetingURL(entryPoints []domain.EntryPoint) string {
	fallback := ""
	for _, ep := range entryPoints {
		if ep.URI == "" {
			continue
		}
		if ep.Type == "video" {
			return ep.URI
		}
		if fallback == "" {
			fallback = ep.URI
		}
	}
	return fallback
}
