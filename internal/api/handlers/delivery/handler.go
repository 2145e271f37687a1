package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/api/respond"
	"github.com/uplifthq/uplift/internal/config"
	"github.com/uplifthq/uplift/internal/model"
	jobrepo "github.com/uplifthq/uplift/internal/repository/job"
	"github.com/uplifthq/uplift/internal/service/scheduler"
)

const defaultListLimit = 100

//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/delivery/mock.go -package=mocks

// deliveryService exposes the read side of the delivery pipeline plus the
// streak admin operations.
type deliveryService interface {
	JobStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (string, error)
	ListJobs(ctx context.Context, limit int) ([]model.DeliveryJob, error)
	HistoryFor(ctx context.Context, userID uuid.UUID, limit int) ([]model.HistoryEntry, error)
	StreakFor(ctx context.Context, userID uuid.UUID) (model.StreakState, error)
	RecalculateStreaks(ctx context.Context, userID *uuid.UUID) (int, error)
}

// schedulerService exposes the manual re-dispatch operation.
type schedulerService interface {
	TriggerJobNow(ctx context.Context, strategy retry.Strategy, jobID uuid.UUID) error
}

// Handler handles HTTP requests for the admin delivery log, job status and
// streak views.
type Handler struct {
	delivery  deliveryService
	scheduler schedulerService
	cfg       *config.Config
}

func NewHandler(d deliveryService, s schedulerService, cfg *config.Config) *Handler {
	return &Handler{delivery: d, scheduler: s, cfg: cfg}
}

// ListJobs handles GET requests for the most recent delivery jobs.
func (h *Handler) ListJobs(c *ginext.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid limit"))
			return
		}
		limit = n
	}

	jobs, err := h.delivery.ListJobs(c.Request.Context(), limit)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list jobs")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, jobs)
}

// GetStatus handles GET requests for a single job's status.
func (h *Handler) GetStatus(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	status, err := h.delivery.JobStatus(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, jobrepo.ErrJobNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("job not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get job status")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, status)
}

// TriggerNow handles POST requests to push an existing job back onto the
// delivery queue.
func (h *Handler) TriggerNow(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.scheduler.TriggerJobNow(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		switch {
		case errors.Is(err, jobrepo.ErrJobNotFound):
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("job not found"))
		case errors.Is(err, scheduler.ErrJobTerminal):
			respond.Fail(c.Writer, http.StatusConflict, fmt.Errorf("job already terminal"))
		default:
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to trigger job")
			respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		}
		return
	}

	respond.OK(c.Writer, "job queued for delivery")
}

// GetStreak handles GET requests for a user's streak state.
func (h *Handler) GetStreak(c *ginext.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	state, err := h.delivery.StreakFor(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get streak")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, state)
}

// ListHistory handles GET requests for a user's delivery history.
func (h *Handler) ListHistory(c *ginext.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	entries, err := h.delivery.HistoryFor(c.Request.Context(), userID, defaultListLimit)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to list history")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, entries)
}

// RecalculateStreaks handles POST requests to rebuild streak state from the
// history ledger, for one user when user_id is supplied or for everyone.
func (h *Handler) RecalculateStreaks(c *ginext.Context) {
	var target *uuid.UUID
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user_id"))
			return
		}
		target = &id
	}

	n, err := h.delivery.RecalculateStreaks(c.Request.Context(), target)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to recalculate streaks")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]int{"recalculated": n})
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func parseUserID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("userID"))
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user id"))
		return uuid.Nil, false
	}
	return id, true
}
