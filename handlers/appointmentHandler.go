package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"RoyRemind/middlewares"
	"RoyRemind/services"

	"github.com/gin-gonic/gin"
)

type appointmentReminders interface {
	ScheduleAppointment(ctx context.Context, appointmentID uint, now time.Time) (*services.ScheduleResult, error)
	CancelAppointment(ctx context.Context, appointmentID uint, now time.Time) (*services.CancelResult, error)
	ListAppointmentReminders(ctx context.Context, appointmentID uint) ([]services.ReminderView, error)
}

type AppointmentHandler struct {
	service appointmentReminders
	now     func() time.Time
}

func NewAppointmentHandler(service appointmentReminders) *AppointmentHandler {
	return &AppointmentHandler{service: service, now: time.Now}
}

type scheduleErrorView struct {
	ScheduleID uint     `json:"schedule_id"`
	Problems   []string `json:"problems"`
}

func appointmentID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("appointment_id"), 10, 64)
	if err != nil || id == 0 {
		middlewares.HttpError(c, "invalid appointment id", http.StatusBadRequest, err)
		return 0, false
	}
	return uint(id), true
}

func (h *AppointmentHandler) ScheduleReminders(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	res, err := h.service.ScheduleAppointment(c.Request.Context(), id, h.now().UTC())
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}

	scheduleErrors := make([]scheduleErrorView, 0, len(res.ConfigErrors))
	for _, e := range res.ConfigErrors {
		scheduleErrors = append(scheduleErrors, scheduleErrorView{ScheduleID: e.ScheduleID, Problems: e.Problems})
	}
	status := http.StatusOK
	if len(res.Created) > 0 {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"created":         res.Created,
		"skipped_quota":   res.SkippedQuota,
		"opted_out":       res.OptedOut,
		"schedule_errors": scheduleErrors,
	})
}

func (h *AppointmentHandler) ListReminders(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	views, err := h.service.ListAppointmentReminders(c.Request.Context(), id)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	if views == nil {
		views = []services.ReminderView{}
	}
	c.JSON(http.StatusOK, views)
}

func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	res, err := h.service.CancelAppointment(c.Request.Context(), id, h.now().UTC())
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
