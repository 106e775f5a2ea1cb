// Package providers selects the concrete provider adapter for a resource
// family.
package providers

import (
	"context"
	"fmt"

	"github.com/loomworks/aide-sync/internal/adapters/driven/providers/gmailbox"
	"github.com/loomworks/aide-sync/internal/adapters/driven/providers/googlecal"
	"github.com/loomworks/aide-sync/internal/adapters/driven/providers/outlook"
	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderFactory = (*Factory)(nil)

// Mailbox provider kinds.
const (
	MailboxProviderGmail   = "gmail"
	MailboxProviderOutlook = "outlook"
)

// Config selects which provider backs each resource family.
type Config struct {
	// MailboxProvider is "gmail" or "outlook". Calendars always use
	// Google Calendar.
	MailboxProvider string

	// GmailPubSubTopic is the Cloud Pub/Sub topic Gmail push notifications
	// are delivered through. Required when MailboxProvider is "gmail" and
	// webhooks are wanted.
	GmailPubSubTopic string
}

// Factory builds per-user provider clients from broker-issued access tokens.
type Factory struct {
	cfg Config
}

// NewFactory creates a provider factory.
func NewFactory(cfg Config) *Factory {
	if cfg.MailboxProvider == "" {
		cfg.MailboxProvider = MailboxProviderGmail
	}
	return &Factory{cfg: cfg}
}

// Create returns a provider client for the family, authenticated as the user.
func (f *Factory) Create(ctx context.Context, userID string, family domain.ResourceFamily, accessToken string) (driven.ProviderClient, error) {
	switch family {
	case domain.ResourceFamilyCalendar:
		return googlecal.New(ctx, accessToken)
	case domain.ResourceFamilyMailbox:
		switch f.cfg.MailboxProvider {
		case MailboxProviderGmail:
			return gmailbox.New(ctx, accessToken, f.cfg.GmailPubSubTopic)
		case MailboxProviderOutlook:
			return outlook.New(ctx, accessToken, userID)
		default:
			return nil, fmt.Errorf("%w: unknown mailbox provider %q", domain.ErrInvalidInput, f.cfg.MailboxProvider)
		}
	default:
		return nil, fmt.Errorf("%w: unknown resource family %q", domain.ErrInvalidInput, family)
	}
}
