package domain

import "time"

// ResourceFamily identifies which kind of external resource a sync covers.
// Each user has at most one sync state per family.
type ResourceFamily string

const (
	ResourceFamilyCalendar ResourceFamily = "calendar"
	ResourceFamilyMailbox  ResourceFamily = "mailbox"
)

// Valid reports whether the family is one the engine knows about.
func (f ResourceFamily) Valid() bool {
	return f == ResourceFamilyCalendar || f == ResourceFamilyMailbox
}

// EntityKind returns the kind of record the family syncs.
func (f ResourceFamily) EntityKind() EntityKind {
	if f == ResourceFamilyMailbox {
		return EntityKindMessage
	}
	return EntityKindEvent
}

// SyncStatus represents the current state of a user's sync for one family.
type SyncStatus string

const (
	SyncStatusIdle        SyncStatus = "idle"
	SyncStatusFullSync    SyncStatus = "full_sync"
	SyncStatusIncremental SyncStatus = "incremental_sync"
	SyncStatusError       SyncStatus = "error"
	SyncStatusPaused      SyncStatus = "paused"
)

// Active reports whether the status marks a run in progress.
func (s SyncStatus) Active() bool {
	return s == SyncStatusFullSync || s == SyncStatusIncremental
}

// SyncMode selects the sync strategy for a run.
type SyncMode string

const (
	// SyncModeAuto picks incremental when valid tokens exist and the last
	// full sync is recent enough, full otherwise.
	SyncModeAuto        SyncMode = "auto"
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// SyncState tracks sync progress for one user and resource family.
// It is the only shared mutable row in the engine; all status changes go
// through the store's compare-and-set transition.
type SyncState struct {
	UserID string         `json:"user_id"`
	Family ResourceFamily `json:"family"`
	Status SyncStatus     `json:"status"`

	LastSyncAt     *time.Time `json:"last_sync_at,omitempty"`
	LastFullSyncAt *time.Time `json:"last_full_sync_at,omitempty"`

	// ResourceSyncToken is the family-level continuation token (e.g. the
	// calendar-list sync token or the mailbox history id).
	ResourceSyncToken string `json:"resource_sync_token,omitempty"`

	// SubResourceTokens maps sub-resource provider ids to their own
	// continuation tokens (e.g. per-calendar event sync tokens).
	SubResourceTokens map[string]string `json:"sub_resource_tokens,omitempty"`

	ErrorCount   int    `json:"error_count"`
	ErrorMessage string `json:"error_message,omitempty"`

	WebhookChannelID  string     `json:"webhook_channel_id,omitempty"`
	WebhookResourceID string     `json:"webhook_resource_id,omitempty"`
	WebhookExpiresAt  *time.Time `json:"webhook_expires_at,omitempty"`

	Stats     SyncStats `json:"stats"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSyncState returns the default idle state for a user and family.
func NewSyncState(userID string, family ResourceFamily) *SyncState {
	return &SyncState{
		UserID:            userID,
		Family:            family,
		Status:            SyncStatusIdle,
		SubResourceTokens: map[string]string{},
	}
}

// TokenFor returns the stored continuation token for a sub-resource.
func (s *SyncState) TokenFor(subResourceID string) string {
	if s.SubResourceTokens == nil {
		return ""
	}
	return s.SubResourceTokens[subResourceID]
}

// SetToken records a sub-resource continuation token.
func (s *SyncState) SetToken(subResourceID, token string) {
	if s.SubResourceTokens == nil {
		s.SubResourceTokens = map[string]string{}
	}
	s.SubResourceTokens[subResourceID] = token
}

// ClearToken drops a sub-resource token, forcing a full fetch next time.
func (s *SyncState) ClearToken(subResourceID string) {
	delete(s.SubResourceTokens, subResourceID)
}

// FullSyncStale reports whether the last full sync is older than the
// staleness threshold, which forces a full pass even when tokens exist.
func (s *SyncState) FullSyncStale(threshold time.Duration) bool {
	if s.LastFullSyncAt == nil {
		return true
	}
	return time.Since(*s.LastFullSyncAt) > threshold
}

// CrashedSince reports whether the state claims an active run older than the
// liveness timeout. Such a run is treated as crashed and may be reclaimed.
func (s *SyncState) CrashedSince(liveness time.Duration) bool {
	return s.Status.Active() && time.Since(s.UpdatedAt) > liveness
}

// SyncStats holds counters for a single run.
type SyncStats struct {
	SubResources int `json:"sub_resources"`
	Pages        int `json:"pages"`
	Upserted     int `json:"upserted"`
	Deleted      int `json:"deleted"`
	StaleDropped int `json:"stale_dropped"`
	RecordErrors int `json:"record_errors"`
}

// SyncResult is the outcome of one orchestrator run.
type SyncResult struct {
	UserID   string         `json:"user_id"`
	Family   ResourceFamily `json:"family"`
	Strategy SyncStatus     `json:"strategy,omitempty"`

	// Skipped is true when another run already held the state and this
	// invocation was a no-op.
	Skipped bool `json:"skipped,omitempty"`

	Success  bool      `json:"success"`
	Stats    SyncStats `json:"stats"`
	Error    string    `json:"error,omitempty"`
	Duration float64   `json:"duration_seconds"`
}
