package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ChannelStore = (*ChannelStore)(nil)

// ChannelStore implements driven.ChannelStore using PostgreSQL
type ChannelStore struct {
	db *DB
}

// NewChannelStore creates a new ChannelStore
func NewChannelStore(db *DB) *ChannelStore {
	return &ChannelStore{db: db}
}

const channelColumns = `id, user_id, family, sub_resource_id, resource_id, expires_at, created_at`

// Save creates or replaces a channel row. The unique index on
// (user_id, family, sub_resource_id) keeps one channel per watched
// sub-resource; a renewal replaces the old row.
func (s *ChannelStore) Save(ctx context.Context, ch *domain.WebhookChannel) error {
	query := `
		INSERT INTO webhook_channels (` + channelColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, family, sub_resource_id) DO UPDATE SET
			id = EXCLUDED.id,
			resource_id = EXCLUDED.resource_id,
			expires_at = EXCLUDED.expires_at,
			created_at = EXCLUDED.created_at
	`
	_, err := s.db.ExecContext(ctx, query,
		ch.ID,
		ch.UserID,
		string(ch.Family),
		ch.SubResourceID,
		ch.ResourceID,
		NullTime(ch.ExpiresAt),
		ch.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save webhook channel: %w", err)
	}
	return nil
}

// Get returns a channel by id or domain.ErrNotFound.
func (s *ChannelStore) Get(ctx context.Context, channelID string) (*domain.WebhookChannel, error) {
	query := `SELECT ` + channelColumns + ` FROM webhook_channels WHERE id = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, channelID))
}

// GetBySubResource returns the channel watching one sub-resource.
func (s *ChannelStore) GetBySubResource(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID string) (*domain.WebhookChannel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM webhook_channels
		WHERE user_id = $1 AND family = $2 AND sub_resource_id = $3
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, userID, string(family), subResourceID))
}

// Delete removes a channel row.
func (s *ChannelStore) Delete(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_channels WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("delete webhook channel: %w", err)
	}
	return nil
}

// ListExpiring returns channels whose lease ends within the window.
func (s *ChannelStore) ListExpiring(ctx context.Context, within time.Duration) ([]*domain.WebhookChannel, error) {
	query := `
		SELECT ` + channelColumns + `
		FROM webhook_channels
		WHERE expires_at IS NOT NULL AND expires_at < now() + make_interval(secs => $1)
		ORDER BY expires_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, within.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list expiring channels: %w", err)
	}
	defer rows.Close()

	var channels []*domain.WebhookChannel
	for rows.Next() {
		var ch domain.WebhookChannel
		var expiresAt sql.NullTime
		err := rows.Scan(&ch.ID, &ch.UserID, &ch.Family, &ch.SubResourceID,
			&ch.ResourceID, &expiresAt, &ch.CreatedAt)
		if err != nil {
			return nil, err
		}
		ch.ExpiresAt = TimePtr(expiresAt)
		channels = append(channels, &ch)
	}
	return channels, rows.Err()
}

func (s *ChannelStore) scanOne(row *sql.Row) (*domain.WebhookChannel, error) {
	var ch domain.WebhookChannel
	var expiresAt sql.NullTime
	err := row.Scan(&ch.ID, &ch.UserID, &ch.Family, &ch.SubResourceID,
		&ch.ResourceID, &expiresAt, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook channel: %w", err)
	}
	ch.ExpiresAt = TimePtr(expiresAt)
	return &ch, nil
}
