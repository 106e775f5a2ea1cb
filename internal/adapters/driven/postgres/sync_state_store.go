package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.SyncStateStore = (*SyncStateStore)(nil)

// SyncStateStore implements driven.SyncStateStore using PostgreSQL.
// The status transition in BeginRun is a single conditional upsert, so the
// claim is atomic across instances without advisory locks.
type SyncStateStore struct {
	db *DB
}

// NewSyncStateStore creates a new SyncStateStore
func NewSyncStateStore(db *DB) *SyncStateStore {
	return &SyncStateStore{db: db}
}

const syncStateColumns = `
	user_id, family, status, last_sync_at, last_full_sync_at,
	resource_sync_token, sub_resource_tokens, error_count, error_message,
	webhook_channel_id, webhook_resource_id, webhook_expires_at,
	stats, updated_at
`

// Get retrieves sync state for a user and family, defaulting to idle when no
// row exists yet.
func (s *SyncStateStore) Get(ctx context.Context, userID string, family domain.ResourceFamily) (*domain.SyncState, error) {
	query := `SELECT ` + syncStateColumns + ` FROM sync_states WHERE user_id = $1 AND family = $2`

	state, err := scanSyncState(s.db.QueryRowContext(ctx, query, userID, string(family)))
	if err == sql.ErrNoRows {
		return domain.NewSyncState(userID, family), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	return state, nil
}

// Save creates or updates the full sync state row
func (s *SyncStateStore) Save(ctx context.Context, state *domain.SyncState) error {
	tokensJSON, err := json.Marshal(state.SubResourceTokens)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(state.Stats)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sync_states (` + syncStateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())
		ON CONFLICT (user_id, family) DO UPDATE SET
			status = EXCLUDED.status,
			last_sync_at = EXCLUDED.last_sync_at,
			last_full_sync_at = EXCLUDED.last_full_sync_at,
			resource_sync_token = EXCLUDED.resource_sync_token,
			sub_resource_tokens = EXCLUDED.sub_resource_tokens,
			error_count = EXCLUDED.error_count,
			error_message = EXCLUDED.error_message,
			webhook_channel_id = EXCLUDED.webhook_channel_id,
			webhook_resource_id = EXCLUDED.webhook_resource_id,
			webhook_expires_at = EXCLUDED.webhook_expires_at,
			stats = EXCLUDED.stats,
			updated_at = now()
	`

	_, err = s.db.ExecContext(ctx, query,
		state.UserID,
		string(state.Family),
		string(state.Status),
		NullTime(state.LastSyncAt),
		NullTime(state.LastFullSyncAt),
		state.ResourceSyncToken,
		tokensJSON,
		state.ErrorCount,
		state.ErrorMessage,
		state.WebhookChannelID,
		state.WebhookResourceID,
		NullTime(state.WebhookExpiresAt),
		statsJSON,
	)
	if err != nil {
		return fmt.Errorf("save sync state: %w", err)
	}
	return nil
}

// BeginRun atomically claims the state for a run. The claim succeeds when
// the row is missing, idle, errored, or stuck in an active status longer
// than the liveness timeout (a crashed run).
func (s *SyncStateStore) BeginRun(ctx context.Context, userID string, family domain.ResourceFamily, target domain.SyncStatus, liveness time.Duration) (bool, error) {
	query := `
		INSERT INTO sync_states (user_id, family, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, family) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = now()
		WHERE sync_states.status IN ('idle', 'error')
		   OR (sync_states.status IN ('full_sync', 'incremental_sync')
		       AND sync_states.updated_at < now() - make_interval(secs => $4))
	`

	res, err := s.db.ExecContext(ctx, query,
		userID, string(family), string(target), liveness.Seconds())
	if err != nil {
		return false, fmt.Errorf("begin run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SaveResourceToken persists the family-level continuation token.
func (s *SyncStateStore) SaveResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, token string) error {
	query := `
		INSERT INTO sync_states (user_id, family, resource_sync_token)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, family) DO UPDATE SET
			resource_sync_token = EXCLUDED.resource_sync_token,
			updated_at = now()
	`
	_, err := s.db.ExecContext(ctx, query, userID, string(family), token)
	if err != nil {
		return fmt.Errorf("save resource token: %w", err)
	}
	return nil
}

// SaveSubResourceToken persists one sub-resource token; an empty token
// removes the entry.
func (s *SyncStateStore) SaveSubResourceToken(ctx context.Context, userID string, family domain.ResourceFamily, subResourceID, token string) error {
	var query string
	var args []any
	if token == "" {
		query = `
			UPDATE sync_states
			SET sub_resource_tokens = sub_resource_tokens - $3,
			    updated_at = now()
			WHERE user_id = $1 AND family = $2
		`
		args = []any{userID, string(family), subResourceID}
	} else {
		query = `
			UPDATE sync_states
			SET sub_resource_tokens = jsonb_set(sub_resource_tokens, ARRAY[$3], to_jsonb($4::text)),
			    updated_at = now()
			WHERE user_id = $1 AND family = $2
		`
		args = []any{userID, string(family), subResourceID, token}
	}

	_, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save sub-resource token: %w", err)
	}
	return nil
}

// Reset clears pause and error bookkeeping so scheduling resumes.
func (s *SyncStateStore) Reset(ctx context.Context, userID string, family domain.ResourceFamily) error {
	query := `
		UPDATE sync_states
		SET status = 'idle', error_count = 0, error_message = '', updated_at = now()
		WHERE user_id = $1 AND family = $2
	`
	_, err := s.db.ExecContext(ctx, query, userID, string(family))
	if err != nil {
		return fmt.Errorf("reset sync state: %w", err)
	}
	return nil
}

// ListDue returns non-paused, non-active states whose last sync is older
// than the interval, oldest first.
func (s *SyncStateStore) ListDue(ctx context.Context, interval time.Duration) ([]*domain.SyncState, error) {
	query := `
		SELECT ` + syncStateColumns + `
		FROM sync_states
		WHERE status NOT IN ('paused', 'full_sync', 'incremental_sync')
		  AND (last_sync_at IS NULL OR last_sync_at < now() - make_interval(secs => $1))
		ORDER BY last_sync_at ASC NULLS FIRST
	`

	rows, err := s.db.QueryContext(ctx, query, interval.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list due states: %w", err)
	}
	defer rows.Close()

	var states []*domain.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncState(row rowScanner) (*domain.SyncState, error) {
	var state domain.SyncState
	var lastSyncAt, lastFullSyncAt, webhookExpiresAt sql.NullTime
	var tokensJSON, statsJSON []byte

	err := row.Scan(
		&state.UserID,
		&state.Family,
		&state.Status,
		&lastSyncAt,
		&lastFullSyncAt,
		&state.ResourceSyncToken,
		&tokensJSON,
		&state.ErrorCount,
		&state.ErrorMessage,
		&state.WebhookChannelID,
		&state.WebhookResourceID,
		&webhookExpiresAt,
		&statsJSON,
		&state.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	state.LastSyncAt = TimePtr(lastSyncAt)
	state.LastFullSyncAt = TimePtr(lastFullSyncAt)
	state.WebhookExpiresAt = TimePtr(webhookExpiresAt)

	state.SubResourceTokens = map[string]string{}
	if len(tokensJSON) > 0 {
		if err := json.Unmarshal(tokensJSON, &state.SubResourceTokens); err != nil {
			return nil, err
		}
	}
	if len(statsJSON) > 0 {
		if err := json.Unmarshal(statsJSON, &state.Stats); err != nil {
			return nil, err
		}
	}

	return &state, nil
}
