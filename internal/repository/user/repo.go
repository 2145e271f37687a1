package user

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/uplifthq/uplift/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// Repository provides recipient lookups for the delivery worker and the
// admin surface. Goals are stored as jsonb.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// GetUser retrieves a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `
		SELECT id, name, email, timezone, goals, review_flagged, created_at, updated_at
		FROM users
		WHERE id = $1;
    `

	var (
		u     model.User
		goals []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Name, &u.Email, &u.Timezone, &goals,
		&u.ReviewFlagged, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("failed to get user: %w", err)
	}

	if len(goals) > 0 {
		if err := json.Unmarshal(goals, &u.Goals); err != nil {
			return model.User{}, fmt.Errorf("failed to decode goals: %w", err)
		}
	}

	return u, nil
}

// FlagForReview marks a user for admin review after a hard bounce. Idempotent.
func (r *Repository) FlagForReview(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(
		ctx, `UPDATE users SET review_flagged = TRUE, updated_at = now() WHERE id = $1;`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to flag user for review: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ListUserIDs returns every user ID, for bulk streak recalculation.
func (r *Repository) ListUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at;`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
