package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-room-coordinator/internal/kvstore"
	"laundry-room-coordinator/internal/model"
	"laundry-room-coordinator/internal/reconcile"
)

// stubCoordinator is a scriptable Coordinator for handler tests.
type stubCoordinator struct {
	ClaimFunc  func(ctx context.Context, machineID string, minutes int) (model.DisplayState, error)
	PauseFunc  func(ctx context.Context, machineID string) (model.DisplayState, error)
	ResumeFunc func(ctx context.Context, machineID string) (model.DisplayState, error)
	StopFunc   func(ctx context.Context, machineID string) error
	Display    []model.DisplayState
}

func (s *stubCoordinator) Claim(ctx context.Context, machineID string, minutes int) (model.DisplayState, error) {
	return s.ClaimFunc(ctx, machineID, minutes)
}

func (s *stubCoordinator) Pause(ctx context.Context, machineID string) (model.DisplayState, error) {
	return s.PauseFunc(ctx, machineID)
}

func (s *stubCoordinator) Resume(ctx context.Context, machineID string) (model.DisplayState, error) {
	return s.ResumeFunc(ctx, machineID)
}

func (s *stubCoordinator) Stop(ctx context.Context, machineID string) error {
	return s.StopFunc(ctx, machineID)
}

func (s *stubCoordinator) Displays() []model.DisplayState {
	return s.Display
}

func setupRouter(svc Coordinator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handler := NewHandler(svc)
	r.GET("/api/machines", handler.GetMachines)
	r.POST("/api/machines/:id/claim", handler.ClaimMachine)
	r.POST("/api/machines/:id/pause", handler.PauseMachine)
	r.POST("/api/machines/:id/resume", handler.ResumeMachine)
	r.POST("/api/machines/:id/stop", handler.StopMachine)
	return r
}

func TestGetMachines(t *testing.T) {
	svc := &stubCoordinator{
		Display: []model.DisplayState{
			{MachineID: "washer_1", Status: model.DisplayActive, MinutesRemaining: 12, EndTime: 99_000},
			{MachineID: "washer_2", Status: model.DisplayAvailable},
		},
	}
	router := setupRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/machines", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[
		{"machine_id":"washer_1","status":"active","minutes_remaining":12,"end_time":99000},
		{"machine_id":"washer_2","status":"available","minutes_remaining":0}
	]`, w.Body.String())
}

func TestClaimMachine(t *testing.T) {
	var gotID string
	var gotMinutes int
	svc := &stubCoordinator{
		ClaimFunc: func(ctx context.Context, machineID string, minutes int) (model.DisplayState, error) {
			gotID, gotMinutes = machineID, minutes
			return model.DisplayState{MachineID: machineID, Status: model.DisplayActive, MinutesRemaining: minutes}, nil
		},
	}
	router := setupRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/machines/washer_1/claim", strings.NewReader(`{"minutes":29}`))
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "washer_1", gotID)
	assert.Equal(t, 29, gotMinutes)
	assert.JSONEq(t, `{"machine_id":"washer_1","status":"active","minutes_remaining":29}`, w.Body.String())
}

func TestClaimMachine_BadBody(t *testing.T) {
	svc := &stubCoordinator{
		ClaimFunc: func(ctx context.Context, machineID string, minutes int) (model.DisplayState, error) {
			t.Fatal("claim must not be called for an unparseable body")
			return model.DisplayState{}, nil
		},
	}
	router := setupRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/machines/washer_1/claim", strings.NewReader(`{}`))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
}

func TestErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "validation errors are 400",
			err:        &reconcile.ValidationError{Field: "machine_id", Value: "toaster_1", Reason: "must be washer_1..4 or dryer_1..4"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "state errors are 409",
			err:        &reconcile.InvalidStateError{MachineID: "washer_1", Op: "pause"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "transaction errors are 503",
			err:        &reconcile.TransactionError{MachineID: "washer_1", Op: "claim", Attempts: 3, Err: kvstore.ErrConflict},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCoordinator{
				PauseFunc: func(ctx context.Context, machineID string) (model.DisplayState, error) {
					return model.DisplayState{}, tc.err
				},
			}
			router := setupRouter(svc)

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/api/machines/washer_1/pause", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.wantStatus, w.Code)
		})
	}
}

func TestResumeAndStop(t *testing.T) {
	svc := &stubCoordinator{
		ResumeFunc: func(ctx context.Context, machineID string) (model.DisplayState, error) {
			return model.DisplayState{MachineID: machineID, Status: model.DisplayActive, MinutesRemaining: 7, EndTime: 420_000}, nil
		},
		StopFunc: func(ctx context.Context, machineID string) error {
			return nil
		},
	}
	router := setupRouter(svc)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/machines/dryer_2/resume", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"machine_id":"dryer_2","status":"active","minutes_remaining":7,"end_time":420000}`, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodPost, "/api/machines/dryer_2/stop", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
