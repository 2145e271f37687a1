// Package delivery processes claimed jobs end to end: generate content, send
// the email, record the outcome in the ledger and keep the streak state
// fresh. One job produces at most one email and exactly one history entry.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/model"
	historyrepo "github.com/uplifthq/uplift/internal/repository/history"
	jobrepo "github.com/uplifthq/uplift/internal/repository/job"
	"github.com/uplifthq/uplift/internal/streak"
	"github.com/uplifthq/uplift/pkg/generator"
	"github.com/uplifthq/uplift/pkg/mailer"
)

const fingerprintDepth = 10

// defaultBackoff is the transient-retry ladder: delays between successive
// send attempts within one claim.
var defaultBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

//go:generate mockgen -source=service.go -destination=../../mocks/service/delivery/mock.go -package=mocks

type jobRepository interface {
	ClaimJob(ctx context.Context, id uuid.UUID, lease time.Duration) (model.DeliveryJob, error)
	MarkJobSent(ctx context.Context, id uuid.UUID, usedFallback bool) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, lastError string) error
	GetJobStatusByID(ctx context.Context, id uuid.UUID) (string, error)
	ListJobs(ctx context.Context, limit int) ([]model.DeliveryJob, error)
}

type historyRepository interface {
	AppendEntry(ctx context.Context, e model.HistoryEntry) (bool, error)
	ListSuccessDays(ctx context.Context, userID uuid.UUID) ([]string, error)
	CountSent(ctx context.Context, userID uuid.UUID) (int, error)
	RecentFingerprints(ctx context.Context, userID uuid.UUID, limit int) ([]string, error)
	ListEntriesByUser(ctx context.Context, userID uuid.UUID, limit int) ([]model.HistoryEntry, error)
	UpsertStreak(ctx context.Context, s model.StreakState) error
	GetStreak(ctx context.Context, userID uuid.UUID) (model.StreakState, error)
}

type userRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	FlagForReview(ctx context.Context, id uuid.UUID) error
	ListUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

type messageGenerator interface {
	Generate(ctx context.Context, req generator.Request) (generator.Message, error)
}

type mailTransport interface {
	Send(to, subject, htmlBody, textBody string, headers map[string]string) error
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
	GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error)
}

type Service struct {
	jobs      jobRepository
	history   historyRepository
	users     userRepository
	generator messageGenerator
	mailer    mailTransport
	cache     cache
	lease     time.Duration
	backoff   []time.Duration // delays between transient send attempts
}

func NewService(
	jobs jobRepository,
	history historyRepository,
	users userRepository,
	gen messageGenerator,
	transport mailTransport,
	c cache,
	lease time.Duration,
	backoff []time.Duration,
) *Service {
	if len(backoff) == 0 {
		backoff = defaultBackoff
	}

	return &Service{
		jobs:      jobs,
		history:   history,
		users:     users,
		generator: gen,
		mailer:    transport,
		cache:     c,
		lease:     lease,
		backoff:   backoff,
	}
}

// Process drives one job to a terminal state. It is safe to call for a job
// that is already terminal or claimed elsewhere: the claim's compare-and-swap
// turns those calls into no-ops.
func (s *Service) Process(ctx context.Context, strategy retry.Strategy, jobID uuid.UUID) error {
	j, err := s.jobs.ClaimJob(ctx, jobID, s.lease)
	if err != nil {
		if errors.Is(err, jobrepo.ErrJobNotClaimable) {
			zlog.Logger.Info().Str("job_id", jobID.String()).Msg("job not claimable, skipping")
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	u, err := s.users.GetUser(ctx, j.UserID)
	if err != nil {
		s.failJob(ctx, strategy, j, fmt.Sprintf("user lookup: %v", err))
		return nil
	}

	msg := s.generate(ctx, j, u)

	sendErr := s.sendWithRetry(ctx, u, j, msg)
	if sendErr == nil {
		s.completeJob(ctx, strategy, j, u, msg)
		return nil
	}

	if errors.Is(sendErr, mailer.ErrPermanent) {
		if err := s.users.FlagForReview(ctx, u.ID); err != nil {
			zlog.Logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("failed to flag user for review")
		}
		zlog.Logger.Warn().Str("user_id", u.ID.String()).Msg("permanent delivery error, user flagged for review")
	}

	s.failJob(ctx, strategy, j, sendErr.Error())
	return nil
}

// generate asks the external generator for content and falls back to the
// static backup message on any failure: a timely email beats a fresh one.
func (s *Service) generate(ctx context.Context, j model.DeliveryJob, u model.User) generator.Message {
	fingerprints, err := s.history.RecentFingerprints(ctx, u.ID, fingerprintDepth)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("failed to load recent fingerprints")
	}

	msg, err := s.generator.Generate(ctx, generator.Request{
		Goals:              u.Goals,
		Personality:        j.PersonalityValue,
		UserName:           u.Name,
		RecentFingerprints: fingerprints,
	})
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("generator unavailable, using fallback message")
		return generator.Fallback(u.Name)
	}

	return msg
}

// sendWithRetry attempts delivery once per backoff slot, sleeping the ladder
// delay between attempts. Transient errors retry; a permanent error aborts
// immediately.
func (s *Service) sendWithRetry(ctx context.Context, u model.User, j model.DeliveryJob, msg generator.Message) error {
	headers := map[string]string{"X-Uplift-Job": j.ID.String()}

	var lastErr error
	for attempt := 0; attempt < len(s.backoff); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", mailer.ErrTransient, ctx.Err())
			case <-time.After(s.backoff[attempt-1]):
			}
		}

		err := s.mailer.Send(u.Email, msg.Subject, msg.HTMLBody, msg.TextBody, headers)
		if err == nil {
			return nil
		}
		if errors.Is(err, mailer.ErrPermanent) {
			return err
		}

		lastErr = err
		zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Int("attempt", attempt+1).Msg("transient delivery error")
	}

	return lastErr
}

func (s *Service) completeJob(ctx context.Context, strategy retry.Strategy, j model.DeliveryJob, u model.User, msg generator.Message) {
	if err := s.jobs.MarkJobSent(ctx, j.ID, msg.UsedFallback); err != nil {
		// The lease moved while we were sending; the owner records the
		// outcome, we must not double-append.
		zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("could not terminalize job as sent")
		return
	}
	s.cacheStatus(ctx, strategy, j.ID, string(model.JobSent))

	s.recordOutcome(ctx, j, u, model.HistoryEntry{
		Outcome:      model.OutcomeSent,
		Fingerprint:  msg.Fingerprint,
		UsedFallback: msg.UsedFallback,
	})

	zlog.Logger.Info().Str("job_id", j.ID.String()).Str("user_id", u.ID.String()).Msg("email delivered")
}

func (s *Service) failJob(ctx context.Context, strategy retry.Strategy, j model.DeliveryJob, reason string) {
	if err := s.jobs.MarkJobFailed(ctx, j.ID, reason); err != nil {
		zlog.Logger.Warn().Err(err).Str("job_id", j.ID.String()).Msg("could not terminalize job as failed")
		return
	}
	s.cacheStatus(ctx, strategy, j.ID, string(model.JobFailed))

	u, err := s.users.GetUser(ctx, j.UserID)
	if err != nil {
		u = model.User{ID: j.UserID, Timezone: "UTC"}
	}

	s.recordOutcome(ctx, j, u, model.HistoryEntry{
		Outcome: model.OutcomeFailed,
		Error:   reason,
	})

	zlog.Logger.Error().Str("job_id", j.ID.String()).Str("reason", reason).Msg("delivery failed")
}

// recordOutcome appends the terminal attempt to the ledger and refreshes the
// user's streak. The append is unique per job, so replays recompute nothing.
func (s *Service) recordOutcome(ctx context.Context, j model.DeliveryJob, u model.User, entry model.HistoryEntry) {
	entry.UserID = j.UserID
	entry.JobID = j.ID
	entry.ScheduleID = j.ScheduleID
	entry.SlotInstant = j.SlotInstant
	entry.PersonalityValue = j.PersonalityValue
	entry.DeliveredOn = localDay(j.SlotInstant, u.Timezone)

	created, err := s.history.AppendEntry(ctx, entry)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", j.ID.String()).Msg("failed to append history entry")
		return
	}
	if !created {
		return
	}

	if err := s.refreshStreak(ctx, j.UserID); err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", j.UserID.String()).Msg("failed to refresh streak")
	}
}

func (s *Service) refreshStreak(ctx context.Context, userID uuid.UUID) error {
	days, err := s.history.ListSuccessDays(ctx, userID)
	if err != nil {
		return fmt.Errorf("list success days: %w", err)
	}

	total, err := s.history.CountSent(ctx, userID)
	if err != nil {
		return fmt.Errorf("count sent: %w", err)
	}

	return s.history.UpsertStreak(ctx, model.StreakState{
		UserID:        userID,
		Current:       streak.Compute(days),
		TotalSent:     total,
		LastSuccessOn: streak.MostRecent(days),
	})
}

// RecalculateStreaks rebuilds streak state from history for one user, or for
// every user when userID is nil. Safe to run while jobs are in flight.
func (s *Service) RecalculateStreaks(ctx context.Context, userID *uuid.UUID) (int, error) {
	var ids []uuid.UUID
	if userID != nil {
		ids = []uuid.UUID{*userID}
	} else {
		var err error
		ids, err = s.users.ListUserIDs(ctx)
		if err != nil {
			return 0, fmt.Errorf("list users: %w", err)
		}
	}

	for _, id := range ids {
		if err := s.refreshStreak(ctx, id); err != nil {
			return 0, fmt.Errorf("recalculate streak for %s: %w", id, err)
		}
	}

	return len(ids), nil
}

// JobStatus returns a job's status, preferring the cache and falling back to
// the durable store.
func (s *Service) JobStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error) {
	status, err := s.cache.GetWithRetry(ctx, strategy, id.String())
	if err != nil && !errors.Is(err, redis.Nil) {
		zlog.Logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to get job status from cache")
	}

	if err != nil {
		status, err = s.jobs.GetJobStatusByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("get job status: %w", err)
		}
		s.cacheStatus(ctx, strategy, id, status)
	}

	return status, nil
}

// ListJobs returns the most recent jobs for the admin delivery log.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]model.DeliveryJob, error) {
	jobs, err := s.jobs.ListJobs(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// HistoryFor returns a user's most recent delivery history.
func (s *Service) HistoryFor(ctx context.Context, userID uuid.UUID, limit int) ([]model.HistoryEntry, error) {
	entries, err := s.history.ListEntriesByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// StreakFor returns a user's stored streak state; a user with no history has
// a zero streak.
func (s *Service) StreakFor(ctx context.Context, userID uuid.UUID) (model.StreakState, error) {
	state, err := s.history.GetStreak(ctx, userID)
	if err != nil {
		if errors.Is(err, historyrepo.ErrStreakNotFound) {
			return model.StreakState{UserID: userID}, nil
		}
		return model.StreakState{}, fmt.Errorf("get streak: %w", err)
	}
	return state, nil
}

func (s *Service) cacheStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status string) {
	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), status); err != nil {
		zlog.Logger.Error().Err(err).Str("job_id", id.String()).Msg("failed to cache job status")
	}
}

func localDay(slot time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	return slot.In(loc).Format(time.DateOnly)
}
