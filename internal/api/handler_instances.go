package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"alarm-clock-backend/internal/engine"
	"alarm-clock-backend/internal/model"
)

// instanceResponse is the flattened structure for the API response.
type instanceResponse struct {
	model.AlarmInstance
	State string `json:"state"`
}

// GetInstances handles the GET /api/instances request, optionally
// filtered by ?state=<name>.
func (h *Handler) GetInstances(c *gin.Context) {
	ctx := c.Request.Context()

	var instances []model.AlarmInstance
	var err error
	if stateParam := c.Query("state"); stateParam != "" {
		state, ok := stateFromName(stateParam)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state " + stateParam})
			return
		}
		instances, err = h.store.GetInstancesByState(ctx, state)
	} else {
		instances, err = h.store.GetAllInstances(ctx)
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve instances"})
		return
	}

	responses := make([]instanceResponse, 0, len(instances))
	for _, inst := range instances {
		responses = append(responses, instanceResponse{AlarmInstance: inst, State: inst.State.String()})
	}
	c.JSON(http.StatusOK, responses)
}

func stateFromName(name string) (model.InstanceState, bool) {
	for s := model.StateSilent; s <= model.StateDismissed; s++ {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}

// InstanceAction handles POST /api/instances/{instance_id}/{action}.
// Actions on instances that a concurrent trigger already removed
// succeed as no-ops; a pre-dismiss outside the allowed window is
// rejected with an explanation.
func (h *Handler) InstanceAction(action engine.UserAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("instance_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid instance ID"})
			return
		}

		ev := engine.Event{Type: engine.EventUserAction, InstanceID: id, Action: action}
		err = h.engine.Handle(c.Request.Context(), ev)
		if errors.Is(err, engine.ErrTooEarlyToDismiss) {
			c.JSON(http.StatusConflict, gin.H{"error": "alarm fires more than the pre-dismiss window away; dismiss it closer to its firing time"})
			return
		}
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}
