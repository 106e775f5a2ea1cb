package domain

import (
	"encoding/json"
	"time"
)

// SubResource is a syncable unit inside a family: a calendar, or a mailbox
// folder. Only selected or primary sub-resources participate in a sync pass;
// hidden ones are excluded from user-facing aggregation but still sync.
type SubResource struct {
	UserID     string         `json:"user_id"`
	Family     ResourceFamily `json:"family"`
	ProviderID string         `json:"provider_id"`
	Name       string         `json:"name"`
	OwnerEmail string         `json:"owner_email,omitempty"`

	IsSelected bool `json:"is_selected"`
	IsPrimary  bool `json:"is_primary"`
	IsHidden   bool `json:"is_hidden"`

	// IsRemoved marks a sub-resource the provider no longer lists. Rows are
	// kept so local entities stay addressable, but removed rows never sync.
	IsRemoved bool `json:"is_removed"`
}

// Syncable reports whether the sub-resource participates in sync passes.
func (r *SubResource) Syncable() bool {
	return !r.IsRemoved && (r.IsSelected || r.IsPrimary)
}

// EntityKind distinguishes the two record shapes the engine moves.
type EntityKind string

const (
	EntityKindEvent   EntityKind = "event"
	EntityKindMessage EntityKind = "message"
)

// EntityStatus is the local lifecycle state of a synced record.
type EntityStatus string

const (
	EntityStatusActive    EntityStatus = "active"
	EntityStatusCancelled EntityStatus = "cancelled"
)

// Attendee is a normalized event participant. Provider-specific nesting is
// flattened by the reconciler so consumers never parse raw shapes.
type Attendee struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name,omitempty"`
	ResponseStatus string `json:"response_status,omitempty"`
	Self           bool   `json:"self,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
}

// ResponseTally summarizes attendee response statuses for an event.
type ResponseTally struct {
	Accepted    int `json:"accepted"`
	Declined    int `json:"declined"`
	Tentative   int `json:"tentative"`
	NeedsAction int `json:"needs_action"`
}

// EntityRecord is the synced unit, an event or a message, owned exclusively
// by the local store. The engine only writes through the store's
// upsert/soft-delete contract and never holds records across pages.
type EntityRecord struct {
	UserID        string       `json:"user_id"`
	SubResourceID string       `json:"sub_resource_id"`
	ProviderID    string       `json:"provider_id"`
	Kind          EntityKind   `json:"kind"`
	Status        EntityStatus `json:"status"`

	// Sequence is the provider's monotonically increasing revision counter.
	// A stored record is never overwritten by a lower or equal sequence.
	Sequence  int64     `json:"sequence"`
	UpdatedAt time.Time `json:"updated_at"`

	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	StartsAt    *time.Time `json:"starts_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`

	Attendees    []Attendee    `json:"attendees,omitempty"`
	Responses    ResponseTally `json:"responses"`
	SelfResponse string        `json:"self_response,omitempty"`
	MeetingURL   string        `json:"meeting_url,omitempty"`

	RecurrenceRules   []string `json:"recurrence_rules,omitempty"`
	RecurringParentID string   `json:"recurring_parent_id,omitempty"`
	IsRecurringMaster bool     `json:"is_recurring_master,omitempty"`

	// Payload carries the provider-opaque remainder of the record.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ProviderAttendee is a participant as delivered by a provider adapter.
type ProviderAttendee struct {
	Email          string
	DisplayName    string
	ResponseStatus string
	Self           bool
	Organizer      bool
}

// EntryPoint is one way to join a meeting, as delivered by the provider.
type EntryPoint struct {
	Type string // "video", "phone", "more"
	URI  string
}

// ProviderEntity is a remote record in the neutral shape adapters emit.
// The reconciler turns it into an EntityRecord.
type ProviderEntity struct {
	ProviderID string
	Kind       EntityKind

	// Status is the provider's own status string; Deleted is set when the
	// provider marks the record cancelled or removed.
	Status  string
	Deleted bool

	Sequence  int64
	UpdatedAt time.Time

	Title       string
	Description string
	Location    string
	StartsAt    *time.Time
	EndsAt      *time.Time

	Attendees   []ProviderAttendee
	EntryPoints []EntryPoint

	RecurrenceRules   []string
	RecurringParentID string

	Payload json.RawMessage
}

// Cancelled reports whether the record should be soft-deleted locally.
func (e *ProviderEntity) Cancelled() bool {
	return e.Deleted || e.Status == "cancelled"
}

// SubResourcePage is one page of the provider's sub-resource listing.
// NextSyncToken is only present on the terminal page (no NextPageToken).
type SubResourcePage struct {
	Items         []*SubResource
	NextPageToken string
	NextSyncToken string
}

// EntityPage is one page of provider records for a single sub-resource.
// NextSyncToken is only present on the terminal page (no NextPageToken).
type EntityPage struct {
	Items         []*ProviderEntity
	NextPageToken string
	NextSyncToken string
}
