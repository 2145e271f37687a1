package job

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/dbpg"

	"github.com/uplifthq/uplift/internal/model"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotClaimable means the job is terminal, mid-lease on another
	// worker, or out of attempts. Not an error to act on, just stop.
	ErrJobNotClaimable = errors.New("job not claimable")

	// ErrLeaseLost means the worker's lease expired before it could
	// terminalize; another worker owns the job now.
	ErrLeaseLost = errors.New("job lease lost")
)

// Repository provides the durable side of the dispatch queue. Every state
// transition is an atomic conditional write: enqueue is insert-if-absent on
// (schedule_id, slot_instant), claim and terminalize are compare-and-swap on
// status, so concurrent scheduler and worker instances stay safe.
type Repository struct {
	db *dbpg.DB
}

func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// EnqueueJob inserts a job for one due slot. A second enqueue for the same
// (schedule_id, slot_instant) is a no-op returning the existing job's ID with
// created=false, which is what keeps overlapping evaluator runs from sending
// twice.
func (r *Repository) EnqueueJob(ctx context.Context, j model.DeliveryJob) (uuid.UUID, bool, error) {
	insert := `
		INSERT INTO jobs (
		    user_id, schedule_id, slot_instant, personality_id,
		    personality_value, status, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schedule_id, slot_instant) DO NOTHING
		RETURNING id;
    `

	var personalityID interface{}
	if j.PersonalityID != uuid.Nil {
		personalityID = j.PersonalityID
	}

	var id uuid.UUID
	err := r.db.QueryRowContext(
		ctx, insert,
		j.UserID, j.ScheduleID, j.SlotInstant, personalityID,
		j.PersonalityValue, j.Status, j.MaxAttempts,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	// Conflict: resolve to the job dispatched earlier for this slot.
	lookup := `
		SELECT id FROM jobs
		WHERE schedule_id = $1 AND slot_instant = $2;
    `
	err = r.db.QueryRowContext(ctx, lookup, j.ScheduleID, j.SlotInstant).Scan(&id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to resolve duplicate enqueue: %w", err)
	}

	return id, false, nil
}

// ClaimJob takes an exclusive lease on a pending job, or reclaims one whose
// previous lease expired. Each successful claim burns one attempt.
func (r *Repository) ClaimJob(ctx context.Context, id uuid.UUID, lease time.Duration) (model.DeliveryJob, error) {
	query := `
		UPDATE jobs
		SET status = 'in_flight',
		    attempts = attempts + 1,
		    lease_expires_at = $2,
		    updated_at = now()
		WHERE id = $1
		  AND attempts < max_attempts
		  AND (status = 'pending'
		       OR (status = 'in_flight' AND lease_expires_at < now()))
		RETURNING id, user_id, schedule_id, slot_instant, personality_id,
		          personality_value, status, attempts, max_attempts,
		          lease_expires_at, last_error, used_fallback, created_at, updated_at;
    `

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id, time.Now().UTC().Add(lease)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeliveryJob{}, ErrJobNotClaimable
		}
		return model.DeliveryJob{}, fmt.Errorf("failed to claim job: %w", err)
	}

	return j, nil
}

// MarkJobSent terminalizes a claimed job as sent.
func (r *Repository) MarkJobSent(ctx context.Context, id uuid.UUID, usedFallback bool) error {
	query := `
		UPDATE jobs
		SET status = 'sent', used_fallback = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'in_flight';
    `
	return r.terminalize(ctx, query, id, usedFallback)
}

// MarkJobFailed terminalizes a claimed job as failed, recording the last error.
func (r *Repository) MarkJobFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', last_error = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'in_flight';
    `
	return r.terminalize(ctx, query, id, lastError)
}

// MarkJobSkipped terminalizes a job that will never be attempted, e.g. when
// the roster had no active personality at dispatch time.
func (r *Repository) MarkJobSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE jobs
		SET status = 'skipped', last_error = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'in_flight');
    `
	return r.terminalize(ctx, query, id, reason)
}

func (r *Repository) terminalize(ctx context.Context, query string, id uuid.UUID, arg interface{}) error {
	res, err := r.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("failed to terminalize job: %w", err)
	}

	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrLeaseLost
	}

	return nil
}

// GetJob retrieves a job by its ID.
func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (model.DeliveryJob, error) {
	query := `
		SELECT id, user_id, schedule_id, slot_instant, personality_id,
		       personality_value, status, attempts, max_attempts,
		       lease_expires_at, last_error, used_fallback, created_at, updated_at
		FROM jobs
		WHERE id = $1;
    `

	j, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DeliveryJob{}, ErrJobNotFound
		}
		return model.DeliveryJob{}, fmt.Errorf("failed to get job: %w", err)
	}

	return j, nil
}

// GetJobStatusByID retrieves only the status of a job.
func (r *Repository) GetJobStatusByID(ctx context.Context, id uuid.UUID) (string, error) {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}

	return status, nil
}

// ListJobs retrieves the most recent jobs for the admin delivery log.
func (r *Repository) ListJobs(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
	query := `
		SELECT id, user_id, schedule_id, slot_instant, personality_id,
		       personality_value, status, attempts, max_attempts,
		       lease_expires_at, last_error, used_fallback, created_at, updated_at
		FROM jobs
		ORDER BY slot_instant DESC
		LIMIT $1;
    `

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.DeliveryJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}

	return jobs, rows.Err()
}

// ListDispatchedSlots returns the slot-instants already dispatched for a
// schedule since the given instant, regardless of job status. This is the
// evaluator's prior-dispatch set.
func (r *Repository) ListDispatchedSlots(ctx context.Context, scheduleID uuid.UUID, since time.Time) ([]time.Time, error) {
	query := `
		SELECT slot_instant FROM jobs
		WHERE schedule_id = $1 AND slot_instant >= $2
		ORDER BY slot_instant;
    `

	rows, err := r.db.QueryContext(ctx, query, scheduleID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatched slots: %w", err)
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		slots = append(slots, t.UTC())
	}

	return slots, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (model.DeliveryJob, error) {
	var (
		j             model.DeliveryJob
		personalityID uuid.NullUUID
		lease         sql.NullTime
		lastError     sql.NullString
	)

	err := row.Scan(
		&j.ID, &j.UserID, &j.ScheduleID, &j.SlotInstant, &personalityID,
		&j.PersonalityValue, &j.Status, &j.Attempts, &j.MaxAttempts,
		&lease, &lastError, &j.UsedFallback, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return model.DeliveryJob{}, err
	}

	if personalityID.Valid {
		j.PersonalityID = personalityID.UUID
	}
	if lease.Valid {
		t := lease.Time
		j.LeaseExpiresAt = &t
	}
	if lastError.Valid {
		j.LastError = lastError.String
	}
	j.SlotInstant = j.SlotInstant.UTC()

	return j, nil
}
