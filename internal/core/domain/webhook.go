package domain

import "time"

// WebhookChannel is a leased push-notification registration with a provider.
// Channels expire and must be renewed before ExpiresAt minus a buffer.
type WebhookChannel struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Family        ResourceFamily `json:"family"`
	SubResourceID string         `json:"sub_resource_id"`

	// ResourceID is the provider-assigned opaque id echoed back in every
	// notification. Together with the channel id it authenticates push
	// traffic.
	ResourceID string `json:"resource_id"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ResourceState is the change kind a push notification reports.
type ResourceState string

const (
	// ResourceStateSync is the confirmation handshake sent on channel
	// creation; it carries no change.
	ResourceStateSync ResourceState = "sync"
	// ResourceStateExists signals that something changed.
	ResourceStateExists ResourceState = "exists"
	// ResourceStateNotExists signals the watched resource is gone.
	ResourceStateNotExists ResourceState = "not_exists"
)

// Notification is a parsed inbound push notification.
type Notification struct {
	ChannelID     string        `json:"channel_id"`
	ResourceID    string        `json:"resource_id"`
	State         ResourceState `json:"state"`
	MessageNumber int64         `json:"message_number,omitempty"`
}
