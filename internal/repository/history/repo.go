package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/uplifthq/uplift/internal/model"
)

var ErrStreakNotFound = errors.New("streak not found")

// Repository is the storage side of the delivery ledger: append-only history
// entries plus the derived per-user streak state.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// AppendEntry records one terminal delivery attempt. Entries are unique per
// job, so replays after a lease handover append exactly once; the return
// value reports whether this call created the entry.
func (r *Repository) AppendEntry(ctx context.Context, e model.HistoryEntry) (bool, error) {
	query := `
		INSERT INTO history_entries (
		    user_id, job_id, schedule_id, slot_instant, outcome,
		    personality_value, used_fallback, fingerprint, error, delivered_on
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING id;
    `

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, query,
		e.UserID, e.JobID, e.ScheduleID, e.SlotInstant, e.Outcome,
		e.PersonalityValue, e.UsedFallback, e.Fingerprint, e.Error, e.DeliveredOn,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to append history entry: %w", err)
	}

	return true, nil
}

// ListSuccessDays returns the distinct user-local days with at least one
// successful delivery, the input to the streak computation.
func (r *Repository) ListSuccessDays(ctx context.Context, userID uuid.UUID) ([]string, error) {
	query := `
		SELECT DISTINCT delivered_on
		FROM history_entries
		WHERE user_id = $1 AND outcome = 'sent'
		ORDER BY delivered_on DESC;
    `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list success days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		days = append(days, d)
	}

	return days, rows.Err()
}

// CountSent returns a user's lifetime successful-delivery count.
func (r *Repository) CountSent(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM history_entries WHERE user_id = $1 AND outcome = 'sent';`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sent entries: %w", err)
	}

	return n, nil
}

// ListEntriesByUser retrieves a user's most recent history entries.
func (r *Repository) ListEntriesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.HistoryEntry, error) {
	query := `
		SELECT id, user_id, job_id, schedule_id, slot_instant, outcome,
		       personality_value, used_fallback, fingerprint, error,
		       delivered_on, created_at
		FROM history_entries
		WHERE user_id = $1
		ORDER BY slot_instant DESC
		LIMIT $2;
    `

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var (
			e           model.HistoryEntry
			fingerprint sql.NullString
			errMsg      sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.UserID, &e.JobID, &e.ScheduleID, &e.SlotInstant,
			&e.Outcome, &e.PersonalityValue, &e.UsedFallback,
			&fingerprint, &errMsg, &e.DeliveredOn, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Fingerprint = fingerprint.String
		e.Error = errMsg.String
		e.SlotInstant = e.SlotInstant.UTC()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// RecentFingerprints returns fingerprints of the user's latest sent messages,
// passed to the generator for anti-repetition.
func (r *Repository) RecentFingerprints(ctx context.Context, userID uuid.UUID, limit int) ([]string, error) {
	query := `
		SELECT fingerprint
		FROM history_entries
		WHERE user_id = $1 AND outcome = 'sent' AND fingerprint <> ''
		ORDER BY slot_instant DESC
		LIMIT $2;
    `

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}

	return fps, rows.Err()
}

// UpsertStreak stores the recomputed streak state for a user.
func (r *Repository) UpsertStreak(ctx context.Context, s model.StreakState) error {
	query := `
		INSERT INTO streak_states (user_id, current, total_sent, last_success_on, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE
		SET current = EXCLUDED.current,
		    total_sent = EXCLUDED.total_sent,
		    last_success_on = EXCLUDED.last_success_on,
		    updated_at = now();
    `

	if _, err := r.db.ExecContext(ctx, query, s.UserID, s.Current, s.TotalSent, s.LastSuccessOn); err != nil {
		return fmt.Errorf("failed to upsert streak: %w", err)
	}

	return nil
}

// GetStreak retrieves the stored streak state for a user.
func (r *Repository) GetStreak(ctx context.Context, userID uuid.UUID) (model.StreakState, error) {
	query := `
		SELECT user_id, current, total_sent, last_success_on, updated_at
		FROM streak_states
		WHERE user_id = $1;
    `

	var s model.StreakState
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&s.UserID, &s.Current, &s.TotalSent, &s.LastSuccessOn, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.StreakState{}, ErrStreakNotFound
		}
		return model.StreakState{}, fmt.Errorf("failed to get streak: %w", err)
	}

	return s, nil
}
