package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/loomworks/aide-sync/internal/core/domain"
	"github.com/loomworks/aide-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.LocalStore = (*EntityStore)(nil)

// EntityStore implements driven.LocalStore using PostgreSQL. Entity upserts
// carry the sequence guard in SQL, so stale writes lose regardless of which
// instance applies them.
type EntityStore struct {
	db *DB
}

// NewEntityStore creates a new EntityStore
func NewEntityStore(db *DB) *EntityStore {
	return &EntityStore{db: db}
}

// UpsertSubResources inserts or updates sub-resource rows.
func (s *EntityStore) UpsertSubResources(ctx context.Context, rows []*domain.SubResource) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO sub_resources (user_id, family, provider_id, name, owner_email,
			is_selected, is_primary, is_hidden, is_removed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, now())
		ON CONFLICT (user_id, family, provider_id) DO UPDATE SET
			name = EXCLUDED.name,
			owner_email = EXCLUDED.owner_email,
			is_selected = EXCLUDED.is_selected,
			is_primary = EXCLUDED.is_primary,
			is_hidden = EXCLUDED.is_hidden,
			is_removed = FALSE,
			updated_at = now()
	`

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			_, err := tx.ExecContext(ctx, query,
				row.UserID,
				string(row.Family),
				row.ProviderID,
				row.Name,
				row.OwnerEmail,
				row.IsSelected,
				row.IsPrimary,
				row.IsHidden,
			)
			if err != nil {
				return fmt.Errorf("upsert sub-resource %s: %w", row.ProviderID, err)
			}
		}
		return nil
	})
}

// MarkSubResourcesRemoved flags rows the provider no longer returns.
func (s *EntityStore) MarkSubResourcesRemoved(ctx context.Context, userID string, family domain.ResourceFamily, keep []string) error {
	query := `
		UPDATE sub_resources
		SET is_removed = TRUE, updated_at = now()
		WHERE user_id = $1 AND family = $2 AND NOT (provider_id = ANY($3))
	`
	_, err := s.db.ExecContext(ctx, query, userID, string(family), pq.Array(keep))
	if err != nil {
		return fmt.Errorf("mark sub-resources removed: %w", err)
	}
	return nil
}

// ListSyncableSubResources returns selected or primary, non-removed rows.
func (s *EntityStore) ListSyncableSubResources(ctx context.Context, userID string, family domain.ResourceFamily) ([]*domain.SubResource, error) {
	query := `
		SELECT user_id, family, provider_id, name, owner_email,
			is_selected, is_primary, is_hidden, is_removed
		FROM sub_resources
		WHERE user_id = $1 AND family = $2
		  AND NOT is_removed AND (is_selected OR is_primary)
		ORDER BY provider_id
	`

	rows, err := s.db.QueryContext(ctx, query, userID, string(family))
	if err != nil {
		return nil, fmt.Errorf("list syncable sub-resources: %w", err)
	}
	defer rows.Close()

	var subs []*domain.SubResource
	for rows.Next() {
		var sub domain.SubResource
		err := rows.Scan(
			&sub.UserID,
			&sub.Family,
			&sub.ProviderID,
			&sub.Name,
			&sub.OwnerEmail,
			&sub.IsSelected,
			&sub.IsPrimary,
			&sub.IsHidden,
			&sub.IsRemoved,
		)
		if err != nil {
			return nil, err
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// UpsertEntities applies records with the sequence guard and returns how
// many rows were actually written. The difference between len(rows) and the
// return is the number of stale records dropped.
func (s *EntityStore) UpsertEntities(ctx context.Context, rows []*domain.EntityRecord) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO entity_records (user_id, sub_resource_id, provider_id, kind,
			status, sequence, updated_at, title, description, location,
			starts_at, ends_at, attendees, responses, self_response, meeting_url,
			recurrence_rules, recurring_parent_id, is_recurring_master, payload, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, now())
		ON CONFLICT (user_id, sub_resource_id, provider_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			status = EXCLUDED.status,
			sequence = EXCLUDED.sequence,
			updated_at = EXCLUDED.updated_at,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			location = EXCLUDED.location,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			attendees = EXCLUDED.attendees,
			responses = EXCLUDED.responses,
			self_response = EXCLUDED.self_response,
			meeting_url = EXCLUDED.meeting_url,
			recurrence_rules = EXCLUDED.recurrence_rules,
			recurring_parent_id = EXCLUDED.recurring_parent_id,
			is_recurring_master = EXCLUDED.is_recurring_master,
			payload = EXCLUDED.payload,
			synced_at = now()
		WHERE entity_records.sequence < EXCLUDED.sequence
	`

	applied := 0
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, row := range rows {
			attendees, err := json.Marshal(row.Attendees)
			if err != nil {
				return err
			}
			responses, err := json.Marshal(row.Responses)
			if err != nil {
				return err
			}
			rules, err := json.Marshal(row.RecurrenceRules)
			if err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx, query,
				row.UserID,
				row.SubResourceID,
				row.ProviderID,
				string(row.Kind),
				string(row.Status),
				row.Sequence,
				row.UpdatedAt,
				row.Title,
				row.Description,
				row.Location,
				NullTime(row.StartsAt),
				NullTime(row.EndsAt),
				attendees,
				responses,
				row.SelfResponse,
				row.MeetingURL,
				rules,
				row.RecurringParentID,
				row.IsRecurringMaster,
				[]byte(row.Payload),
			)
			if err != nil {
				return fmt.Errorf("upsert entity %s: %w", row.ProviderID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			applied += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// SoftDeleteEntities marks records cancelled, inserting a tombstone of the
// given kind when the record was never seen.
func (s *EntityStore) SoftDeleteEntities(ctx context.Context, userID, subResourceID string, kind domain.EntityKind, providerIDs []string) error {
	if len(providerIDs) == 0 {
		return nil
	}

	query := `
		INSERT INTO entity_records (user_id, sub_resource_id, provider_id, kind, status, synced_at)
		SELECT $1, $2, unnest($4::text[]), $3, 'cancelled', now()
		ON CONFLICT (user_id, sub_resource_id, provider_id) DO UPDATE SET
			status = 'cancelled',
			synced_at = now()
	`
	_, err := s.db.ExecContext(ctx, query, userID, subResourceID, string(kind), pq.Array(providerIDs))
	if err != nil {
		return fmt.Errorf("soft delete entities: %w", err)
	}
	return nil
}
