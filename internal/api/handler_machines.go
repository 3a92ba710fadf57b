package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-room-coordinator/internal/reconcile"
)

// claimRequest is the body of POST /api/machines/:id/claim.
type claimRequest struct {
	Minutes int `json:"minutes" binding:"required"`
}

// GetMachines handles GET /api/machines.
func (h *Handler) GetMachines(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Displays())
}

// ClaimMachine handles POST /api/machines/:id/claim.
func (h *Handler) ClaimMachine(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	display, err := h.svc.Claim(c.Request.Context(), c.Param("id"), req.Minutes)
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, display)
}

// PauseMachine handles POST /api/machines/:id/pause.
func (h *Handler) PauseMachine(c *gin.Context) {
	display, err := h.svc.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, display)
}

// ResumeMachine handles POST /api/machines/:id/resume.
func (h *Handler) ResumeMachine(c *gin.Context) {
	display, err := h.svc.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, display)
}

// StopMachine handles POST /api/machines/:id/stop.
func (h *Handler) StopMachine(c *gin.Context) {
	if err := h.svc.Stop(c.Request.Context(), c.Param("id")); err != nil {
		abortWithDomainError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// abortWithDomainError maps the error taxonomy onto HTTP statuses.
// Validation and state errors resolve at this boundary; anything else is a
// system failure worth a log line, and the action stays retriable.
func abortWithDomainError(c *gin.Context, err error) {
	if !reconcile.IsRecoverable(err) {
		log.Printf("store operation failed: %v", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, please retry"})
		return
	}
	var ve *reconcile.ValidationError
	if errors.As(err, &ve) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": ve.Error()})
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
}
