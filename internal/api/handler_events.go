package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"alarm-clock-backend/internal/engine"
)

type eventRequest struct {
	Type string `json:"type" binding:"required"`
}

var reconcileEvents = map[string]engine.EventType{
	"boot_completed":   engine.EventBootCompleted,
	"time_changed":     engine.EventTimeChanged,
	"timezone_changed": engine.EventTimezoneChanged,
	"package_replaced": engine.EventPackageReplaced,
}

// PostEvent handles POST /api/events: external trigger sources
// (supervisors, ops tooling) inject desync events here. The
// reconciliation runs in the background; the request returns as soon
// as the work is queued.
func (h *Handler) PostEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	evType, ok := reconcileEvents[req.Type]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type " + req.Type})
		return
	}

	// The request context dies with the response; background work gets
	// its own.
	h.reconciler.Trigger(context.Background(), engine.Event{Type: evType})
	c.Status(http.StatusAccepted)
}
