package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/uplifthq/uplift/internal/model"
)

var ErrPersonalityNotFound = errors.New("personality not found")

// Repository stores personality rosters and the per-user rotation cursor.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// ListRoster retrieves a user's personalities in stable roster order.
func (r *Repository) ListRoster(ctx context.Context, userID uuid.UUID) ([]model.Personality, error) {
	query := `
		SELECT id, user_id, kind, value, active, use_count, position
		FROM personalities
		WHERE user_id = $1
		ORDER BY position;
    `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roster: %w", err)
	}
	defer rows.Close()

	var roster []model.Personality
	for rows.Next() {
		var p model.Personality
		if err := rows.Scan(&p.ID, &p.UserID, &p.Kind, &p.Value, &p.Active, &p.UseCount, &p.Position); err != nil {
			return nil, err
		}
		roster = append(roster, p)
	}

	return roster, rows.Err()
}

// AddPersonality appends a personality at the end of the user's roster.
func (r *Repository) AddPersonality(ctx context.Context, p model.Personality) (uuid.UUID, error) {
	query := `
		INSERT INTO personalities (user_id, kind, value, active, position)
		VALUES ($1, $2, $3, $4,
		        (SELECT COALESCE(MAX(position), -1) + 1 FROM personalities WHERE user_id = $1))
		RETURNING id;
    `

	err := r.db.QueryRowContext(ctx, query, p.UserID, p.Kind, p.Value, p.Active).Scan(&p.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add personality: %w", err)
	}

	return p.ID, nil
}

// SetPersonalityActive flips a roster entry's active flag.
func (r *Repository) SetPersonalityActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(
		ctx, `UPDATE personalities SET active = $1 WHERE id = $2;`, active, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set personality active: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrPersonalityNotFound
	}

	return nil
}

// RemovePersonality deletes a roster entry. The rotation cursor is left as-is;
// the selector normalizes a dangling cursor to the next valid entry.
func (r *Repository) RemovePersonality(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM personalities WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to remove personality: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrPersonalityNotFound
	}

	return nil
}

// GetRotationState retrieves the rotation cursor for a user, defaulting to
// sequential mode with an empty cursor when none is stored yet.
func (r *Repository) GetRotationState(ctx context.Context, userID uuid.UUID) (model.RotationState, error) {
	query := `
		SELECT user_id, mode, last_used_id, updated_at
		FROM rotation_states
		WHERE user_id = $1;
    `

	var (
		state    model.RotationState
		lastUsed uuid.NullUUID
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&state.UserID, &state.Mode, &lastUsed, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RotationState{UserID: userID, Mode: model.RotationSequential}, nil
		}
		return model.RotationState{}, fmt.Errorf("failed to get rotation state: %w", err)
	}

	if lastUsed.Valid {
		state.LastUsedID = lastUsed.UUID
	}

	return state, nil
}

// AdvanceRotation moves the cursor from prev to next with a compare-and-swap
// on the previous value, and bumps the chosen personality's usage counter.
// It reports false when another scheduler instance advanced the cursor first.
func (r *Repository) AdvanceRotation(ctx context.Context, userID, prev, next uuid.UUID) (bool, error) {
	query := `
		INSERT INTO rotation_states (user_id, mode, last_used_id, updated_at)
		VALUES ($1, 'sequential', $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET last_used_id = EXCLUDED.last_used_id, updated_at = now()
		WHERE rotation_states.last_used_id IS NOT DISTINCT FROM $2;
    `

	var prevArg interface{}
	if prev != uuid.Nil {
		prevArg = prev
	}

	res, err := r.db.ExecContext(ctx, query, userID, prevArg, next)
	if err != nil {
		return false, fmt.Errorf("failed to advance rotation: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if _, err := r.db.ExecContext(
		ctx, `UPDATE personalities SET use_count = use_count + 1 WHERE id = $1;`, next,
	); err != nil {
		return true, fmt.Errorf("failed to bump use count: %w", err)
	}

	return true, nil
}

// SetRotationMode sets the rotation policy for a user.
func (r *Repository) SetRotationMode(ctx context.Context, userID uuid.UUID, mode model.RotationMode) error {
	query := `
		INSERT INTO rotation_states (user_id, mode, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET mode = EXCLUDED.mode, updated_at = now();
    `

	if _, err := r.db.ExecContext(ctx, query, userID, mode); err != nil {
		return fmt.Errorf("failed to set rotation mode: %w", err)
	}

	return nil
}
