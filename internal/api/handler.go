package api

import (
	"context"

	"laundry-room-coordinator/internal/model"
)

// Coordinator is the surface the handlers need from the coordination
// service.
type Coordinator interface {
	Claim(ctx context.Context, machineID string, minutes int) (model.DisplayState, error)
	Pause(ctx context.Context, machineID string) (model.DisplayState, error)
	Resume(ctx context.Context, machineID string) (model.DisplayState, error)
	Stop(ctx context.Context, machineID string) error
	Displays() []model.DisplayState
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	svc Coordinator
}

// NewHandler creates a new API handler.
func NewHandler(svc Coordinator) *Handler {
	return &Handler{svc: svc}
}
