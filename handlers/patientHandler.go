package handlers

import (
	"context"
	"net/http"
	"time"

	"RoyRemind/middlewares"
	"RoyRemind/models"

	"github.com/gin-gonic/gin"
)

type optOutService interface {
	OptOut(ctx context.Context, patientID string, now time.Time) (int, error)
}

type preferenceService interface {
	Get(ctx context.Context, patientID string) (*models.PatientPreference, models.EffectivePreference, error)
	Upsert(ctx context.Context, pref *models.PatientPreference) (models.EffectivePreference, error)
}

type engagementReader interface {
	Get(ctx context.Context, patientID string, now time.Time) (*models.EngagementScore, error)
}

// PatientHandler serves the per-patient reminder settings and read-models.
type PatientHandler struct {
	reminders   optOutService
	preferences preferenceService
	engagement  engagementReader
	now         func() time.Time
}

func NewPatientHandler(reminders optOutService, preferences preferenceService, engagement engagementReader) *PatientHandler {
	return &PatientHandler{reminders: reminders, preferences: preferences, engagement: engagement, now: time.Now}
}

type effectivePreferenceView struct {
	Channel                 models.Channel `json:"channel"`
	ContactWindow           string         `json:"contact_window"`
	Timezone                string         `json:"timezone"`
	DND                     string         `json:"dnd"`
	MaxPerDay               int            `json:"max_reminders_per_day"`
	EmergencyContactAllowed bool           `json:"emergency_contact_allowed"`
	OptedOut                bool           `json:"opted_out"`
}

func effectiveView(p models.EffectivePreference) effectivePreferenceView {
	return effectivePreferenceView{
		Channel:                 p.Channel,
		ContactWindow:           p.ContactWindow.String(),
		Timezone:                p.Timezone,
		DND:                     p.DND.String(),
		MaxPerDay:               p.MaxPerDay,
		EmergencyContactAllowed: p.EmergencyContactAllowed,
		OptedOut:                p.OptedOut,
	}
}

func (h *PatientHandler) OptOut(c *gin.Context) {
	patientID := c.Param("patient_id")
	n, err := h.reminders.OptOut(c.Request.Context(), patientID, h.now().UTC())
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patient_id": patientID, "reminders_cancelled": n})
}

func (h *PatientHandler) GetPreferences(c *gin.Context) {
	stored, eff, err := h.preferences.Get(c.Request.Context(), c.Param("patient_id"))
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": stored, "effective": effectiveView(eff)})
}

func (h *PatientHandler) UpsertPreferences(c *gin.Context) {
	var req preferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.HttpError(c, err.Error(), http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		middlewares.RespondError(c, err)
		return
	}

	pref := req.toModel(c.Param("patient_id"))
	eff, err := h.preferences.Upsert(c.Request.Context(), pref)
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stored": pref, "effective": effectiveView(eff)})
}

func (h *PatientHandler) GetEngagement(c *gin.Context) {
	score, err := h.engagement.Get(c.Request.Context(), c.Param("patient_id"), h.now().UTC())
	if err != nil {
		middlewares.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}
