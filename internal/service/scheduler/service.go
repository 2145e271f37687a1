// Package scheduler runs the evaluation tick: for every active schedule it
// asks the evaluator for due slots, picks a personality, enqueues a delivery
// job and hands it to the broker. All mutable state lives in the durable
// store, so any number of scheduler instances can tick concurrently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/model"
	"github.com/uplifthq/uplift/internal/rabbitmq/queue"
	"github.com/uplifthq/uplift/internal/rotation"
	"github.com/uplifthq/uplift/internal/schedule"
)

// ErrJobTerminal is returned by TriggerJobNow for jobs that already reached a
// terminal state; re-triggering them is a no-op by design.
var ErrJobTerminal = errors.New("job already terminal")

// dispatchLookback bounds how far back the prior-dispatch set reaches. Two
// days covers every timezone's notion of "today".
const dispatchLookback = 48 * time.Hour

type scheduleRepository interface {
	ListActiveSchedules(ctx context.Context) ([]model.Schedule, error)
	ClearSkipNext(ctx context.Context, id uuid.UUID) (bool, error)
}

type jobRepository interface {
	EnqueueJob(ctx context.Context, j model.DeliveryJob) (uuid.UUID, bool, error)
	ListDispatchedSlots(ctx context.Context, scheduleID uuid.UUID, since time.Time) ([]time.Time, error)
	MarkJobSkipped(ctx context.Context, id uuid.UUID, reason string) error
	GetJob(ctx context.Context, id uuid.UUID) (model.DeliveryJob, error)
}

type rosterRepository interface {
	ListRoster(ctx context.Context, userID uuid.UUID) ([]model.Personality, error)
	GetRotationState(ctx context.Context, userID uuid.UUID) (model.RotationState, error)
	AdvanceRotation(ctx context.Context, userID, prev, next uuid.UUID) (bool, error)
}

type jobPublisher interface {
	Publish(msg queue.JobMessage, strategy retry.Strategy) error
}

type Service struct {
	schedules   scheduleRepository
	jobs        jobRepository
	rosters     rosterRepository
	queue       jobPublisher
	selector    *rotation.Selector
	maxAttempts int
}

func NewService(
	schedules scheduleRepository,
	jobs jobRepository,
	rosters rosterRepository,
	q jobPublisher,
	selector *rotation.Selector,
	maxAttempts int,
) *Service {
	return &Service{
		schedules:   schedules,
		jobs:        jobs,
		rosters:     rosters,
		queue:       q,
		selector:    selector,
		maxAttempts: maxAttempts,
	}
}

// Run ticks the scheduler until the context is cancelled.
func (s *Service) Run(ctx context.Context, strategy retry.Strategy, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	zlog.Logger.Info().Dur("tick", tick).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			zlog.Logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, strategy, time.Now().UTC())
		}
	}
}

// Tick evaluates every active schedule at the given instant. Evaluator and
// selector failures never escape: they resolve to "no job produced" plus a
// log entry.
func (s *Service) Tick(ctx context.Context, strategy retry.Strategy, now time.Time) {
	schedules, err := s.schedules.ListActiveSchedules(ctx)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list active schedules")
		return
	}

	for _, sch := range schedules {
		s.evaluateSchedule(ctx, strategy, sch, now)
	}
}

func (s *Service) evaluateSchedule(ctx context.Context, strategy retry.Strategy, sch model.Schedule, now time.Time) {
	dispatched, err := s.jobs.ListDispatchedSlots(ctx, sch.ID, now.Add(-dispatchLookback))
	if err != nil {
		zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("failed to load dispatched slots")
		return
	}

	eval, err := schedule.DueSlots(sch, now, dispatched)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("schedule evaluation failed")
		return
	}

	if eval.SkipConsumed {
		// The consumed slot needs a durable record, otherwise it is still
		// due on the next tick once the flag is gone.
		if !s.recordSkippedSlot(ctx, sch, eval.SkippedSlot, "skip_next") {
			return
		}

		cleared, err := s.schedules.ClearSkipNext(ctx, sch.ID)
		if err != nil {
			zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("failed to clear skip_next")
			return
		}
		if cleared {
			zlog.Logger.Info().
				Str("schedule_id", sch.ID.String()).
				Time("slot", eval.SkippedSlot).
				Msg("skip_next consumed one slot")
		}
	}

	for _, slot := range eval.Due {
		s.dispatchSlot(ctx, strategy, sch, slot)
	}
}

func (s *Service) dispatchSlot(ctx context.Context, strategy retry.Strategy, sch model.Schedule, slot time.Time) {
	roster, err := s.rosters.ListRoster(ctx, sch.UserID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", sch.UserID.String()).Msg("failed to load roster")
		return
	}

	state, err := s.rosters.GetRotationState(ctx, sch.UserID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", sch.UserID.String()).Msg("failed to load rotation state")
		return
	}

	loc, err := time.LoadLocation(sch.Timezone)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("invalid schedule timezone")
		return
	}

	picked, next, err := s.selector.Next(roster, state, slot.In(loc))
	if errors.Is(err, rotation.ErrNoPersonalityAvailable) {
		s.recordSkippedSlot(ctx, sch, slot, "no active personality")
		return
	}
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", sch.UserID.String()).Msg("rotation selection failed")
		return
	}

	jobID, created, err := s.jobs.EnqueueJob(ctx, model.DeliveryJob{
		UserID:           sch.UserID,
		ScheduleID:       sch.ID,
		SlotInstant:      slot,
		PersonalityID:    picked.ID,
		PersonalityValue: picked.Value,
		Status:           model.JobPending,
		MaxAttempts:      s.maxAttempts,
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("failed to enqueue job")
		return
	}
	if !created {
		// Another scheduler instance dispatched this slot first.
		return
	}

	advanced, err := s.rosters.AdvanceRotation(ctx, sch.UserID, state.LastUsedID, next.LastUsedID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", sch.UserID.String()).Msg("failed to advance rotation")
	} else if !advanced {
		zlog.Logger.Info().Str("user_id", sch.UserID.String()).Msg("rotation cursor advanced concurrently")
	}

	if err := s.queue.Publish(queue.JobMessage{ID: jobID}, strategy); err != nil {
		// The job stays pending; TriggerJobNow can republish it.
		zlog.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to publish job")
		return
	}

	zlog.Logger.Info().
		Str("job_id", jobID.String()).
		Str("schedule_id", sch.ID.String()).
		Time("slot", slot).
		Str("personality", picked.Value).
		Msg("job dispatched")
}

// recordSkippedSlot leaves a durable skipped job for a slot that will never
// be delivered (skip_next, empty roster), so the admin delivery log shows why
// nothing went out and the slot is not re-evaluated forever. It reports
// whether the slot now has a durable record, by this call or an earlier one.
func (s *Service) recordSkippedSlot(ctx context.Context, sch model.Schedule, slot time.Time, reason string) bool {
	jobID, created, err := s.jobs.EnqueueJob(ctx, model.DeliveryJob{
		UserID:      sch.UserID,
		ScheduleID:  sch.ID,
		SlotInstant: slot,
		Status:      model.JobPending,
		MaxAttempts: s.maxAttempts,
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("failed to record skipped slot")
		return false
	}
	if !created {
		return true
	}

	if err := s.jobs.MarkJobSkipped(ctx, jobID, reason); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", jobID.String()).Msg("failed to mark job skipped")
		return false
	}

	zlog.Logger.Warn().
		Str("user_id", sch.UserID.String()).
		Str("schedule_id", sch.ID.String()).
		Time("slot", slot).
		Str("reason", reason).
		Msg("slot skipped")
	return true
}

// TriggerJobNow republishes an existing job to the delivery queue, for the
// admin console. Terminal jobs return ErrJobTerminal; pending or stuck
// in-flight jobs are re-announced, which is safe because workers claim with a
// compare-and-swap.
func (s *Service) TriggerJobNow(ctx context.Context, strategy retry.Strategy, jobID uuid.UUID) error {
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	switch j.Status {
	case model.JobSent, model.JobFailed, model.JobSkipped:
		return ErrJobTerminal
	}

	if err := s.queue.Publish(queue.JobMessage{ID: j.ID}, strategy); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}

	return nil
}
