package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"alarm-clock-backend/internal/model"
	"alarm-clock-backend/internal/parse"
)

type alarmRequest struct {
	Hour               int    `json:"hour" binding:"min=0,max=23"`
	Minute             int    `json:"minute" binding:"min=0,max=59"`
	DaysOfWeek         string `json:"days_of_week"`
	Enabled            *bool  `json:"enabled"`
	Label              string `json:"label"`
	Ringtone           string `json:"ringtone"`
	Vibrate            bool   `json:"vibrate"`
	SnoozeMinutes      *int   `json:"snooze_minutes"`
	AutoSilenceSeconds *int   `json:"auto_silence_seconds"`
	CrescendoSeconds   int    `json:"crescendo_seconds"`
	DeleteAfterUse     bool   `json:"delete_after_use"`
	Volume             *int   `json:"volume"`
}

// alarmResponse is the flattened structure for the API response.
type alarmResponse struct {
	model.Alarm
	DaysOfWeek string `json:"days_of_week"`
}

func toResponse(a model.Alarm) alarmResponse {
	a.Instances = nil
	return alarmResponse{Alarm: a, DaysOfWeek: a.DaysOfWeek.String()}
}

// applyRequest maps a validated request onto an alarm, filling the
// defaults for omitted durations.
func applyRequest(alarm *model.Alarm, req *alarmRequest) error {
	days, err := parse.DaysOfWeek(req.DaysOfWeek)
	if err != nil {
		return err
	}
	alarm.Hour = req.Hour
	alarm.Minute = req.Minute
	alarm.DaysOfWeek = days
	alarm.Label = req.Label
	alarm.Ringtone = req.Ringtone
	alarm.Vibrate = req.Vibrate
	alarm.CrescendoSeconds = req.CrescendoSeconds
	alarm.DeleteAfterUse = req.DeleteAfterUse
	alarm.Volume = req.Volume
	if req.Enabled != nil {
		alarm.Enabled = *req.Enabled
	}
	alarm.SnoozeMinutes = 10
	if req.SnoozeMinutes != nil {
		alarm.SnoozeMinutes = *req.SnoozeMinutes
	}
	alarm.AutoSilenceSeconds = 600
	if req.AutoSilenceSeconds != nil {
		alarm.AutoSilenceSeconds = *req.AutoSilenceSeconds
	}
	return alarm.Validate()
}

func alarmID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("alarm_id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid alarm ID"})
		return 0, false
	}
	return id, true
}

// GetAlarms handles the GET /api/alarms request.
func (h *Handler) GetAlarms(c *gin.Context) {
	alarms, err := h.store.GetAlarms(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve alarms"})
		return
	}
	responses := make([]alarmResponse, 0, len(alarms))
	for _, a := range alarms {
		responses = append(responses, toResponse(a))
	}
	c.JSON(http.StatusOK, responses)
}

// GetAlarm handles the GET /api/alarms/{alarm_id} request.
func (h *Handler) GetAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	alarm, err := h.store.GetAlarm(c.Request.Context(), id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alarm not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toResponse(*alarm))
}

// CreateAlarm handles the POST /api/alarms request. An enabled alarm
// immediately gets its first upcoming instance.
func (h *Handler) CreateAlarm(c *gin.Context) {
	var req alarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alarm := &model.Alarm{Enabled: true}
	if err := applyRequest(alarm, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := h.store.AddAlarm(ctx, alarm); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if alarm.Enabled {
		if _, err := h.engine.CreateNextInstance(ctx, alarm); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, toResponse(*alarm))
}

// UpdateAlarm handles the PUT /api/alarms/{alarm_id} request. Editing
// replaces the alarm's upcoming instance; already-dismissed history is
// unaffected because instances snapshot their settings.
func (h *Handler) UpdateAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	var req alarmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	alarm, err := h.store.GetAlarm(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alarm not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := applyRequest(alarm, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.UpdateAlarm(ctx, alarm); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Scheduled instances carry the pre-edit snapshot; drop them and
	// register a fresh one for the edited time.
	if err := h.engine.DeleteAllInstances(ctx, alarm.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if alarm.Enabled {
		if _, err := h.engine.CreateNextInstance(ctx, alarm); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, toResponse(*alarm))
}

// DeleteAlarm handles the DELETE /api/alarms/{alarm_id} request,
// cascading to the alarm's instances and their pending wake-ups.
func (h *Handler) DeleteAlarm(c *gin.Context) {
	id, ok := alarmID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	deletedIDs, err := h.store.DeleteAlarm(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "alarm not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.engine.CancelWakeups(ctx, deletedIDs)
	c.Status(http.StatusNoContent)
}

// SetAlarmEnabled handles POST /api/alarms/{alarm_id}/enable and
// /disable. Disabling removes the alarm's instances; enabling registers
// the next one.
func (h *Handler) SetAlarmEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := alarmID(c)
		if !ok {
			return
		}
		ctx := c.Request.Context()
		alarm, err := h.store.GetAlarm(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alarm not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		alarm.Enabled = enabled
		if err := h.store.UpdateAlarm(ctx, alarm); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if enabled {
			if _, err := h.engine.CreateNextInstance(ctx, alarm); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := h.engine.DeleteAllInstances(ctx, alarm.ID); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, toResponse(*alarm))
	}
}
