package handlers

import (
	"context"
	"net/http"
	"strconv"

	"RoyRemind/middlewares"
	"RoyRemind/models"

	"github.com/gin-gonic/gin"
)

type scheduleService interface {
	Create(ctx context.Context, sched *models.ReminderSchedule) ([]string, error)
	Get(ctx context.Context, id uint) (*models.ReminderSchedule, error)
}

type templateService interface {
	Upsert(ctx context.Context, tpl *models.ReminderTemplate) error
}

type ScheduleHandler struct {
	schedules scheduleService
	templates templateService
}

func NewScheduleHandler(schedules scheduleService, templates templateService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, templates: templates}
}

func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.HttpError(c, err.Error(), http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		middlewares.RespondError(c, err)
		return
	}

	sched := req.toModel()
	warnings, err := h.schedules.Create(c.Request.Context(), sched)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	c.JSON(http.StatusCreated, gin.H{"schedule": sched, "warnings": warnings})
}

func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		middlewares.HttpError(c, "invalid schedule id", http.StatusBadRequest, err)
		return
	}
	sched, err := h.schedules.Get(c.Request.Context(), uint(id))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	if sched == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Reminder schedule not found"})
		return
	}
	c.JSON(http.StatusOK, sched)
}

func (h *ScheduleHandler) UpsertTemplate(c *gin.Context) {
	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.HttpError(c, err.Error(), http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		middlewares.RespondError(c, err)
		return
	}

	tpl := &models.ReminderTemplate{ID: c.Param("template_id"), Subject: req.Subject, Body: req.Body}
	if err := h.templates.Upsert(c.Request.Context(), tpl); err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tpl)
}
