package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/api/respond"
	"github.com/uplifthq/uplift/internal/model"
	schedulerepo "github.com/uplifthq/uplift/internal/repository/schedule"
	schedulecfg "github.com/uplifthq/uplift/internal/schedule"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/schedule/mock.go -package=mocks

// scheduleStore is the persistence surface the Handler depends on.
type scheduleStore interface {
	CreateSchedule(ctx context.Context, s model.Schedule) (uuid.UUID, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (model.Schedule, error)
	ListSchedulesByUser(ctx context.Context, userID uuid.UUID) ([]model.Schedule, error)
	UpdateSchedule(ctx context.Context, s model.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error
	SetPaused(ctx context.Context, id uuid.UUID, paused bool) error
	MarkSkipNext(ctx context.Context, id uuid.UUID) error
}

// Handler handles HTTP requests for schedule management.
type Handler struct {
	store     scheduleStore
	validator *validator.Validate
}

func NewHandler(store scheduleStore, v *validator.Validate) *Handler {
	return &Handler{store: store, validator: v}
}

// ScheduleRequest is the JSON body for creating or updating a schedule.
type ScheduleRequest struct {
	UserID       string         `json:"user_id" validate:"required,uuid"`
	GoalID       string         `json:"goal_id,omitempty" validate:"omitempty,uuid"`
	Frequency    string         `json:"frequency" validate:"required,oneof=daily weekly monthly custom"`
	Times        []string       `json:"times" validate:"required,min=1"`
	Timezone     string         `json:"timezone" validate:"required"`
	Weekdays     []int          `json:"weekdays,omitempty"`
	MonthlyDates []int          `json:"monthly_dates,omitempty"`
	IntervalDays int            `json:"interval_days,omitempty"`
	Windows      []model.Window `json:"windows,omitempty"`
	StartDate    string         `json:"start_date,omitempty"` // "2006-01-02"
	EndDate      string         `json:"end_date,omitempty"`
}

func (h *Handler) decodeSchedule(c *ginext.Context) (model.Schedule, bool) {
	var req ScheduleRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return model.Schedule{}, false
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return model.Schedule{}, false
	}

	s := model.Schedule{
		UserID:       uuid.MustParse(req.UserID),
		Frequency:    model.Frequency(req.Frequency),
		Times:        req.Times,
		Timezone:     req.Timezone,
		Weekdays:     req.Weekdays,
		MonthlyDates: req.MonthlyDates,
		IntervalDays: req.IntervalDays,
		Windows:      req.Windows,
	}
	if req.GoalID != "" {
		s.GoalID = uuid.MustParse(req.GoalID)
	}

	var ok bool
	if s.StartDate, ok = h.parseDate(c, "start_date", req.StartDate); !ok {
		return model.Schedule{}, false
	}
	if s.EndDate, ok = h.parseDate(c, "end_date", req.EndDate); !ok {
		return model.Schedule{}, false
	}

	if err := schedulecfg.Validate(s); err != nil {
		var cfgErr *schedulecfg.ConfigError
		if errors.As(err, &cfgErr) {
			zlog.Logger.Warn().Err(err).Msg("rejected schedule config")
			respond.Fail(c.Writer, http.StatusBadRequest, err)
			return model.Schedule{}, false
		}
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return model.Schedule{}, false
	}

	return s, true
}

func (h *Handler) parseDate(c *ginext.Context, field, value string) (*time.Time, bool) {
	if value == "" {
		return nil, true
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid %s format", field))
		return nil, false
	}
	return &t, true
}

// Create handles POST requests to register a new schedule.
func (h *Handler) Create(c *ginext.Context) {
	s, ok := h.decodeSchedule(c)
	if !ok {
		return
	}

	id, err := h.store.CreateSchedule(c.Request.Context(), s)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", s.UserID.String()).Msg("failed to create schedule")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, id)
}

// Get handles GET requests for a single schedule by ID.
func (h *Handler) Get(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	s, err := h.store.GetSchedule(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, schedulerepo.ErrScheduleNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("schedule not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get schedule")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, s)
}

// ListByUser handles GET requests for all of a user's schedules.
func (h *Handler) ListByUser(c *ginext.Context) {
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user id"))
		return
	}

	schedules, err := h.store.ListSchedulesByUser(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to list schedules")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, schedules)
}

// Update handles PUT requests to replace a schedule definition.
func (h *Handler) Update(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	s, ok := h.decodeSchedule(c)
	if !ok {
		return
	}
	s.ID = id

	if err := h.store.UpdateSchedule(c.Request.Context(), s); err != nil {
		if errors.Is(err, schedulerepo.ErrScheduleNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("schedule not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to update schedule")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "schedule updated")
}

// Delete handles DELETE requests to remove a schedule.
func (h *Handler) Delete(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteSchedule(c.Request.Context(), id); err != nil {
		if errors.Is(err, schedulerepo.ErrScheduleNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("schedule not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to delete schedule")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "schedule deleted")
}

// Pause handles POST requests to pause a schedule.
func (h *Handler) Pause(c *ginext.Context) {
	h.setPaused(c, true, "schedule paused")
}

// Resume handles POST requests to resume a paused schedule.
func (h *Handler) Resume(c *ginext.Context) {
	h.setPaused(c, false, "schedule resumed")
}

func (h *Handler) setPaused(c *ginext.Context, paused bool, msg string) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.store.SetPaused(c.Request.Context(), id, paused); err != nil {
		if errors.Is(err, schedulerepo.ErrScheduleNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("schedule not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to set paused state")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, msg)
}

// SkipNext handles POST requests to skip the schedule's next occurrence.
func (h *Handler) SkipNext(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.store.MarkSkipNext(c.Request.Context(), id); err != nil {
		if errors.Is(err, schedulerepo.ErrScheduleNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("schedule not found"))
			return
		}
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to mark skip_next")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "next occurrence will be skipped")
}

func parseID(c *ginext.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}
