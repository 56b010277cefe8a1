package handlers

import (
	"time"

	"RoyRemind/models"
	"RoyRemind/utils"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type preferenceRequest struct {
	PreferredChannel        string `json:"preferred_channel"`
	ContactWindowStart      string `json:"contact_window_start"`
	ContactWindowEnd        string `json:"contact_window_end"`
	Timezone                string `json:"timezone"`
	DNDStart                string `json:"dnd_start"`
	DNDEnd                  string `json:"dnd_end"`
	MaxRemindersPerDay      *int   `json:"max_reminders_per_day"`
	EmergencyContactAllowed bool   `json:"emergency_contact_allowed"`
	OptedOut                bool   `json:"opted_out"`
}

func (r preferenceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PreferredChannel, utils.ChannelName),
		validation.Field(&r.ContactWindowStart, utils.TimeOfDay,
			validation.When(r.ContactWindowEnd != "", validation.Required.Error("is required with contact_window_end"))),
		validation.Field(&r.ContactWindowEnd, utils.TimeOfDay,
			validation.When(r.ContactWindowStart != "", validation.Required.Error("is required with contact_window_start"))),
		validation.Field(&r.Timezone, utils.Timezone),
		validation.Field(&r.DNDStart, utils.TimeOfDay,
			validation.When(r.DNDEnd != "", validation.Required.Error("is required with dnd_end"))),
		validation.Field(&r.DNDEnd, utils.TimeOfDay,
			validation.When(r.DNDStart != "", validation.Required.Error("is required with dnd_start"))),
		validation.Field(&r.MaxRemindersPerDay, validation.Min(0)),
	)
}

func (r preferenceRequest) toModel(patientID string) *models.PatientPreference {
	return &models.PatientPreference{
		PatientID:               patientID,
		PreferredChannel:        r.PreferredChannel,
		ContactWindowStart:      r.ContactWindowStart,
		ContactWindowEnd:        r.ContactWindowEnd,
		Timezone:                r.Timezone,
		DNDStart:                r.DNDStart,
		DNDEnd:                  r.DNDEnd,
		MaxRemindersPerDay:      r.MaxRemindersPerDay,
		EmergencyContactAllowed: r.EmergencyContactAllowed,
		OptedOut:                r.OptedOut,
	}
}

type ruleRequest struct {
	OffsetMinutes int      `json:"offset_minutes"`
	Channels      []string `json:"channels"`
	TemplateID    string   `json:"template_id"`
}

func (r ruleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OffsetMinutes, validation.Min(0)),
		validation.Field(&r.Channels, validation.Required, validation.Each(utils.ChannelName)),
		validation.Field(&r.TemplateID, validation.Required),
	)
}

// escalationRuleRequest accepts canonical triggers and the older free-text forms. An
// explicit delay_minutes or fallback_channel wins over one embedded in the trigger.
type escalationRuleRequest struct {
	Trigger         string `json:"trigger"`
	DelayMinutes    *int   `json:"delay_minutes"`
	FallbackChannel string `json:"fallback_channel"`
}

func (r escalationRuleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Trigger, validation.Required, utils.TriggerExpression),
		validation.Field(&r.DelayMinutes, validation.Min(0)),
		validation.Field(&r.FallbackChannel, utils.ChannelName),
	)
}

func (r escalationRuleRequest) toModel() models.EscalationRule {
	parsed, _ := models.ParseTrigger(r.Trigger)
	rule := models.EscalationRule{Trigger: parsed.Trigger, FallbackChannel: parsed.Fallback}
	switch {
	case r.DelayMinutes != nil:
		rule.DelayMinutes = *r.DelayMinutes
	case parsed.DelayMinutes >= 0:
		rule.DelayMinutes = parsed.DelayMinutes
	}
	if r.FallbackChannel != "" {
		rule.FallbackChannel, _ = models.ParseChannel(r.FallbackChannel)
	}
	return rule
}

type scheduleRequest struct {
	Name            string                  `json:"name"`
	AppointmentType *string                 `json:"appointment_type"`
	IsActive        *bool                   `json:"is_active"`
	Rules           []ruleRequest           `json:"rules"`
	EscalationRules []escalationRuleRequest `json:"escalation_rules"`
}

func (r scheduleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&r.Rules, validation.Required),
		validation.Field(&r.EscalationRules),
	)
}

func (r scheduleRequest) toModel() *models.ReminderSchedule {
	sched := &models.ReminderSchedule{
		Name:            r.Name,
		AppointmentType: r.AppointmentType,
		IsActive:        r.IsActive == nil || *r.IsActive,
	}
	for _, rule := range r.Rules {
		channels := make([]string, len(rule.Channels))
		for i, c := range rule.Channels {
			parsed, _ := models.ParseChannel(c)
			channels[i] = string(parsed)
		}
		sched.Rules = append(sched.Rules, models.ReminderRule{
			OffsetMinutes: rule.OffsetMinutes,
			Channels:      channels,
			TemplateID:    rule.TemplateID,
		})
	}
	for _, esc := range r.EscalationRules {
		sched.EscalationRules = append(sched.EscalationRules, esc.toModel())
	}
	return sched
}

type templateRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (r templateRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Subject, validation.Length(0, 200)),
		validation.Field(&r.Body, validation.Required),
	)
}

type deliveryReceiptRequest struct {
	ExternalID string     `json:"external_id"`
	Status     string     `json:"status"`
	OccurredAt *time.Time `json:"occurred_at"`
}

func (r deliveryReceiptRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ExternalID, validation.Required),
		validation.Field(&r.Status, validation.Required,
			validation.In(string(models.LogDelivered), string(models.LogRead), string(models.LogFailed))),
	)
}

type inboundReplyRequest struct {
	Channel    string     `json:"channel"`
	From       string     `json:"from"`
	Body       string     `json:"body"`
	Sentiment  string     `json:"sentiment"`
	ReceivedAt *time.Time `json:"received_at"`
}

func (r inboundReplyRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Channel, validation.Required, utils.ChannelName),
		validation.Field(&r.From, validation.Required),
		validation.Field(&r.Body, validation.Required, validation.Length(1, 4096)),
		validation.Field(&r.Sentiment, validation.Length(0, 32)),
	)
}

func timeOr(t *time.Time, fallback time.Time) time.Time {
	if t == nil || t.IsZero() {
		return fallback
	}
	return t.UTC()
}
