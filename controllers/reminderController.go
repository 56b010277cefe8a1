package controllers

import (
	"RoyRemind/handlers"

	"github.com/gin-gonic/gin"
)

// ReminderHandlers groups the handlers behind the reminder API.
type ReminderHandlers struct {
	Appointments *handlers.AppointmentHandler
	Patients     *handlers.PatientHandler
	Schedules    *handlers.ScheduleHandler
	Webhooks     *handlers.WebhookHandler
}

func SetupReminderRoutes(router gin.IRouter, h ReminderHandlers) {
	router.POST("/appointments/:appointment_id/reminders", h.Appointments.ScheduleReminders)
	router.GET("/appointments/:appointment_id/reminders", h.Appointments.ListReminders)
	router.POST("/appointments/:appointment_id/cancel", h.Appointments.CancelAppointment)

	router.POST("/patients/:patient_id/opt_out", h.Patients.OptOut)
	router.GET("/patients/:patient_id/preferences", h.Patients.GetPreferences)
	router.PUT("/patients/:patient_id/preferences", h.Patients.UpsertPreferences)
	router.GET("/patients/:patient_id/engagement", h.Patients.GetEngagement)

	router.POST("/reminder_schedules", h.Schedules.CreateSchedule)
	router.GET("/reminder_schedules/:id", h.Schedules.GetSchedule)
	router.PUT("/reminder_templates/:template_id", h.Schedules.UpsertTemplate)

	router.POST("/webhooks/delivery", h.Webhooks.DeliveryReceipt)
	router.POST("/webhooks/replies", h.Webhooks.InboundReply)
}
