package schedule

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

var ErrScheduleNotFound = errors.New("schedule not found")

// Repository provides access to the schedules table. List-valued fields
// (times, weekdays, monthly dates, windows) are stored as jsonb.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateSchedule inserts a new schedule and returns its ID.
func (r *Repository) CreateSchedule(ctx context.Context, s model.Schedule) (uuid.UUID, error) {
	query := `
		INSERT INTO schedules (
		    user_id, goal_id, frequency, times, timezone, weekdays,
		    monthly_dates, interval_days, windows, start_date, end_date, paused
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id;
    `

	times, weekdays, monthlyDates, windows, err := marshalLists(s)
	if err != nil {
		return uuid.Nil, err
	}

	var goalID interface{}
	if s.GoalID != uuid.Nil {
		goalID = s.GoalID
	}

	err = r.db.QueryRowContext(
		ctx, query,
		s.UserID, goalID, s.Frequency, times, s.Timezone, weekdays,
		monthlyDates, s.IntervalDays, windows, s.StartDate, s.EndDate, s.Paused,
	).Scan(&s.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create schedule: %w", err)
	}

	return s.ID, nil
}

// GetSchedule retrieves a schedule by its ID.
func (r *Repository) GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error) {
	query := `
		SELECT id, user_id, goal_id, frequency, times, timezone, weekdays,
		       monthly_dates, interval_days, windows, start_date, end_date,
		       paused, skip_next, created_at, updated_at
		FROM schedules
		WHERE id = $1;
    `

	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Schedule{}, ErrScheduleNotFound
		}
		return model.Schedule{}, fmt.Errorf("failed to get schedule: %w", err)
	}

	return s, nil
}

// ListActiveSchedules retrieves all schedules the evaluator should consider:
// not paused and not past their end date.
func (r *Repository) ListActiveSchedules(ctx context.Context) ([]model.Schedule, error) {
	query := `
		SELECT id, user_id, goal_id, frequency, times, timezone, weekdays,
		       monthly_dates, interval_days, windows, start_date, end_date,
		       paused, skip_next, created_at, updated_at
		FROM schedules
		WHERE NOT paused
		  AND (end_date IS NULL OR end_date >= now() - interval '1 day')
		ORDER BY created_at;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

// ListSchedulesByUser retrieves all schedules belonging to a user.
func (r *Repository) ListSchedulesByUser(ctx context.Context, userID uuid.UUID) ([]model.Schedule, error) {
	query := `
		SELECT id, user_id, goal_id, frequency, times, timezone, weekdays,
		       monthly_dates, interval_days, windows, start_date, end_date,
		       paused, skip_next, created_at, updated_at
		FROM schedules
		WHERE user_id = $1
		ORDER BY created_at;
    `

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}

	return schedules, rows.Err()
}

// UpdateSchedule replaces the definition of an existing schedule. Pause and
// skip flags are managed through their dedicated conditional updates.
func (r *Repository) UpdateSchedule(ctx context.Context, s model.Schedule) error {
	query := `
		UPDATE schedules
		SET frequency = $1, times = $2, timezone = $3, weekdays = $4,
		    monthly_dates = $5, interval_days = $6, windows = $7,
		    start_date = $8, end_date = $9, updated_at = now()
		WHERE id = $10;
    `

	times, weekdays, monthlyDates, windows, err := marshalLists(s)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(
		ctx, query,
		s.Frequency, times, s.Timezone, weekdays, monthlyDates,
		s.IntervalDays, windows, s.StartDate, s.EndDate, s.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// DeleteSchedule removes a schedule.
func (r *Repository) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// SetPaused flips the pause flag. Idempotent.
func (r *Repository) SetPaused(ctx context.Context, id uuid.UUID, paused bool) error {
	query := `
		UPDATE schedules
		SET paused = $1, updated_at = now()
		WHERE id = $2;
    `

	res, err := r.db.ExecContext(ctx, query, paused, id)
	if err != nil {
		return fmt.Errorf("failed to set paused: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// MarkSkipNext arms the one-shot skip flag. Idempotent.
func (r *Repository) MarkSkipNext(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE schedules
		SET skip_next = TRUE, updated_at = now()
		WHERE id = $1;
    `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark skip_next: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrScheduleNotFound
	}

	return nil
}

// ClearSkipNext clears the skip flag only if it is still set, so exactly one
// of several concurrent scheduler instances observes the consumption.
func (r *Repository) ClearSkipNext(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE schedules
		SET skip_next = FALSE, updated_at = now()
		WHERE id = $1 AND skip_next;
    `

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to clear skip_next: %w", err)
	}

	rows, _ := res.RowsAffected()
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (model.Schedule, error) {
	var (
		s            model.Schedule
		goalID       uuid.NullUUID
		times        []byte
		weekdays     []byte
		monthlyDates []byte
		windows      []byte
		startDate    sql.NullTime
		endDate      sql.NullTime
	)

	err := row.Scan(
		&s.ID, &s.UserID, &goalID, &s.Frequency, &times, &s.Timezone,
		&weekdays, &monthlyDates, &s.IntervalDays, &windows,
		&startDate, &endDate, &s.Paused, &s.SkipNext, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return model.Schedule{}, err
	}

	if goalID.Valid {
		s.GoalID = goalID.UUID
	}
	if startDate.Valid {
		t := startDate.Time
		s.StartDate = &t
	}
	if endDate.Valid {
		t := endDate.Time
		s.EndDate = &t
	}

	if err := json.Unmarshal(times, &s.Times); err != nil {
		return model.Schedule{}, fmt.Errorf("failed to decode times: %w", err)
	}
	if len(weekdays) > 0 {
		if err := json.Unmarshal(weekdays, &s.Weekdays); err != nil {
			return model.Schedule{}, fmt.Errorf("failed to decode weekdays: %w", err)
		}
	}
	if len(monthlyDates) > 0 {
		if err := json.Unmarshal(monthlyDates, &s.MonthlyDates); err != nil {
			return model.Schedule{}, fmt.Errorf("failed to decode monthly_dates: %w", err)
		}
	}
	if len(windows) > 0 {
		if err := json.Unmarshal(windows, &s.Windows); err != nil {
			return model.Schedule{}, fmt.Errorf("failed to decode windows: %w", err)
		}
	}

	return s, nil
}

func marshalLists(s model.Schedule) (times, weekdays, monthlyDates, windows []byte, err error) {
	if times, err = json.Marshal(s.Times); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode times: %w", err)
	}
	if weekdays, err = json.Marshal(s.Weekdays); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode weekdays: %w", err)
	}
	if monthlyDates, err = json.Marshal(s.MonthlyDates); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode monthly_dates: %w", err)
	}
	if windows, err = json.Marshal(s.Windows); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to encode windows: %w", err)
	}
	return times, weekdays, monthlyDates, windows, nil
}
