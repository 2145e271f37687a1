package delivery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/uplifthq/uplift/internal/config"
	"github.com/uplifthq/uplift/internal/model"
	"github.com/uplifthq/uplift/internal/service/scheduler"
)

type fakeDeliveryService struct {
	status        string
	streak        model.StreakState
	recalculated  int
	recalcForUser *uuid.UUID
}

func (f *fakeDeliveryService) JobStatus(_ context.Context, _ retry.Strategy, _ uuid.UUID) (string, error) {
	return f.status, nil
}

func (f *fakeDeliveryService) ListJobs(_ context.Context, _ int) ([]model.DeliveryJob, error) {
	return []model.DeliveryJob{{ID: uuid.New()}}, nil
}

func (f *fakeDeliveryService) HistoryFor(_ context.Context, _ uuid.UUID, _ int) ([]model.HistoryEntry, error) {
	return []model.HistoryEntry{{Outcome: model.OutcomeSent}}, nil
}

func (f *fakeDeliveryService) StreakFor(_ context.Context, _ uuid.UUID) (model.StreakState, error) {
	return f.streak, nil
}

func (f *fakeDeliveryService) RecalculateStreaks(_ context.Context, userID *uuid.UUID) (int, error) {
	f.recalcForUser = userID
	return f.recalculated, nil
}

type fakeSchedulerService struct {
	err       error
	triggered []uuid.UUID
}

func (f *fakeSchedulerService) TriggerJobNow(_ context.Context, _ retry.Strategy, jobID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.triggered = append(f.triggered, jobID)
	return nil
}

func setupHandler() (*Handler, *fakeDeliveryService, *fakeSchedulerService) {
	d := &fakeDeliveryService{status: "pending"}
	s := &fakeSchedulerService{}
	cfg := &config.Config{Retry: retry.Strategy{Attempts: 1}}
	return NewHandler(d, s, cfg), d, s
}

func testContext(w *httptest.ResponseRecorder, req *http.Request, params gin.Params) *gin.Context {
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	return c
}

func TestHandler_GetStatus(t *testing.T) {
	handler, _, _ := setupHandler()
	id := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id.String(), nil)
	handler.GetStatus(testContext(w, req, gin.Params{{Key: "id", Value: id.String()}}))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), "pending")
}

func TestHandler_TriggerNow(t *testing.T) {
	handler, _, schedulerSvc := setupHandler()
	id := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+id.String()+"/trigger", nil)
	handler.TriggerNow(testContext(w, req, gin.Params{{Key: "id", Value: id.String()}}))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Equal(t, []uuid.UUID{id}, schedulerSvc.triggered)
}

func TestHandler_TriggerNow_TerminalJob(t *testing.T) {
	handler, _, schedulerSvc := setupHandler()
	schedulerSvc.err = scheduler.ErrJobTerminal
	id := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/"+id.String()+"/trigger", nil)
	handler.TriggerNow(testContext(w, req, gin.Params{{Key: "id", Value: id.String()}}))

	assert.Equal(t, http.StatusConflict, w.Result().StatusCode)
}

func TestHandler_GetStreak(t *testing.T) {
	handler, deliverySvc, _ := setupHandler()
	userID := uuid.New()
	deliverySvc.streak = model.StreakState{UserID: userID, Current: 7, TotalSent: 42}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/users/"+userID.String()+"/streak", nil)
	handler.GetStreak(testContext(w, req, gin.Params{{Key: "userID", Value: userID.String()}}))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	assert.Contains(t, w.Body.String(), `"current":7`)
}

func TestHandler_RecalculateStreaks_SingleUser(t *testing.T) {
	handler, deliverySvc, _ := setupHandler()
	deliverySvc.recalculated = 1
	userID := uuid.New()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/streaks/recalculate?user_id="+userID.String(), nil)
	handler.RecalculateStreaks(testContext(w, req, nil))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
	if assert.NotNil(t, deliverySvc.recalcForUser) {
		assert.Equal(t, userID, *deliverySvc.recalcForUser)
	}
}

func TestHandler_ListJobs_InvalidLimit(t *testing.T) {
	handler, _, _ := setupHandler()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/?limit=zero", nil)
	handler.ListJobs(testContext(w, req, nil))

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}
