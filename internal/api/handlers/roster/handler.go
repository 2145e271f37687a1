package roster

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/uplifthq/uplift/internal/api/respond"
	"github.com/uplifthq/uplift/internal/model"
)

//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/roster/mock.go -package=mocks

// rosterStore is the persistence surface the Handler depends on.
type rosterStore interface {
	ListRoster(ctx context.Context, userID uuid.UUID) ([]model.Personality, error)
	AddPersonality(ctx context.Context, p model.Personality) (uuid.UUID, error)
	SetPersonalityActive(ctx context.Context, id uuid.UUID, active bool) error
	RemovePersonality(ctx context.Context, id uuid.UUID) error
	GetRotationState(ctx context.Context, userID uuid.UUID) (model.RotationState, error)
	SetRotationMode(ctx context.Context, userID uuid.UUID, mode model.RotationMode) error
}

// Handler handles HTTP requests for personality roster management.
type Handler struct {
	store     rosterStore
	validator *validator.Validate
}

func NewHandler(store rosterStore, v *validator.Validate) *Handler {
	return &Handler{store: store, validator: v}
}

// AddRequest is the JSON body for adding a personality to a roster.
type AddRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Kind   string `json:"kind" validate:"required,oneof=famous tone custom"`
	Value  string `json:"value" validate:"required"`
}

// ModeRequest is the JSON body for changing a user's rotation mode.
type ModeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=sequential random daily_fixed"`
}

// ActiveRequest is the JSON body for toggling a personality.
type ActiveRequest struct {
	Active bool `json:"active"`
}

// Add handles POST requests to append a personality to a user's roster.
func (h *Handler) Add(c *ginext.Context) {
	var req AddRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	id, err := h.store.AddPersonality(c.Request.Context(), model.Personality{
		UserID: uuid.MustParse(req.UserID),
		Kind:   model.PersonalityKind(req.Kind),
		Value:  req.Value,
		Active: true,
	})
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", req.UserID).Msg("failed to add personality")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Created(c.Writer, id)
}

// List handles GET requests for a user's roster plus their rotation state.
func (h *Handler) List(c *ginext.Context) {
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user id"))
		return
	}

	roster, err := h.store.ListRoster(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to list roster")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	state, err := h.store.GetRotationState(c.Request.Context(), userID)
	if err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to get rotation state")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, map[string]interface{}{
		"roster":   roster,
		"rotation": state,
	})
}

// SetActive handles PUT requests to enable or disable a personality.
func (h *Handler) SetActive(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	var req ActiveRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.store.SetPersonalityActive(c.Request.Context(), id, req.Active); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to toggle personality")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "personality updated")
}

// Remove handles DELETE requests to drop a personality from the roster.
func (h *Handler) Remove(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	if err := h.store.RemovePersonality(c.Request.Context(), id); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to remove personality")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "personality removed")
}

// SetMode handles PUT requests to change a user's rotation mode.
func (h *Handler) SetMode(c *ginext.Context) {
	userID, err := uuid.Parse(c.Param("userID"))
	if err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid user id"))
		return
	}

	var req ModeRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	if err := h.store.SetRotationMode(c.Request.Context(), userID, model.RotationMode(req.Mode)); err != nil {
		zlog.Logger.Error().Err(err).Str("user_id", userID.String()).Msg("failed to set rotation mode")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, "rotation mode updated")
}
