package job

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/uplifthq/uplift/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

const enqueueQuery = `
		INSERT INTO jobs (
		    user_id, schedule_id, slot_instant, personality_id,
		    personality_value, status, max_attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schedule_id, slot_instant) DO NOTHING
		RETURNING id;
    `

func TestEnqueueJob_CreatesNewJob(t *testing.T) {
	repo, mock := setupMockDB(t)

	jobID := uuid.New()
	j := model.DeliveryJob{
		UserID:           uuid.New(),
		ScheduleID:       uuid.New(),
		SlotInstant:      time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		PersonalityID:    uuid.New(),
		PersonalityValue: "Marcus Aurelius",
		Status:           model.JobPending,
		MaxAttempts:      3,
	}

	mock.ExpectQuery(regexp.QuoteMeta(enqueueQuery)).
		WithArgs(j.UserID, j.ScheduleID, j.SlotInstant, j.PersonalityID, j.PersonalityValue, j.Status, j.MaxAttempts).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID))

	id, created, err := repo.EnqueueJob(context.Background(), j)
	assert.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, jobID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueJob_DuplicateResolvesToExisting(t *testing.T) {
	repo, mock := setupMockDB(t)

	existingID := uuid.New()
	j := model.DeliveryJob{
		UserID:           uuid.New(),
		ScheduleID:       uuid.New(),
		SlotInstant:      time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC),
		PersonalityID:    uuid.New(),
		PersonalityValue: "Marcus Aurelius",
		Status:           model.JobPending,
		MaxAttempts:      3,
	}

	mock.ExpectQuery(regexp.QuoteMeta(enqueueQuery)).
		WithArgs(j.UserID, j.ScheduleID, j.SlotInstant, j.PersonalityID, j.PersonalityValue, j.Status, j.MaxAttempts).
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT id FROM jobs
		WHERE schedule_id = $1 AND slot_instant = $2;
    `)).
		WithArgs(j.ScheduleID, j.SlotInstant).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(existingID))

	id, created, err := repo.EnqueueJob(context.Background(), j)
	assert.NoError(t, err)
	assert.False(t, created, "second enqueue for the same slot is a no-op")
	assert.Equal(t, existingID, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_NotClaimable(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	mock.ExpectQuery("UPDATE jobs").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ClaimJob(context.Background(), id, time.Minute)
	assert.ErrorIs(t, err, ErrJobNotClaimable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_Claims(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	userID := uuid.New()
	scheduleID := uuid.New()
	personalityID := uuid.New()
	slot := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	lease := time.Now().Add(time.Minute)
	now := time.Now()

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "schedule_id", "slot_instant", "personality_id",
		"personality_value", "status", "attempts", "max_attempts",
		"lease_expires_at", "last_error", "used_fallback", "created_at", "updated_at",
	}).AddRow(id, userID, scheduleID, slot, personalityID, "Marcus Aurelius",
		"in_flight", 1, 3, lease, nil, false, now, now)

	mock.ExpectQuery("UPDATE jobs").
		WillReturnRows(rows)

	j, err := repo.ClaimJob(context.Background(), id, time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, model.JobInFlight, j.Status)
	assert.Equal(t, 1, j.Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobSent(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`
		UPDATE jobs
		SET status = 'sent', used_fallback = $2, lease_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'in_flight';
    `)).
		WithArgs(id, false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkJobSent(context.Background(), id, false)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkJobSent_LeaseLost(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	mock.ExpectExec("UPDATE jobs").
		WithArgs(id, true).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkJobSent(context.Background(), id, true)
	assert.ErrorIs(t, err, ErrLeaseLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobStatusByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM jobs WHERE id = $1;`)).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending"))

	status, err := repo.GetJobStatusByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, "pending", status)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM jobs WHERE id = $1;`)).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetJobStatusByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDispatchedSlots(t *testing.T) {
	repo, mock := setupMockDB(t)

	scheduleID := uuid.New()
	since := time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
	s1 := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)
	s2 := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT slot_instant FROM jobs
		WHERE schedule_id = $1 AND slot_instant >= $2
		ORDER BY slot_instant;
    `)).
		WithArgs(scheduleID, since).
		WillReturnRows(sqlmock.NewRows([]string{"slot_instant"}).AddRow(s1).AddRow(s2))

	slots, err := repo.ListDispatchedSlots(context.Background(), scheduleID, since)
	assert.NoError(t, err)
	assert.Equal(t, []time.Time{s1, s2}, slots)
	assert.NoError(t, mock.ExpectationsWereMet())
}
