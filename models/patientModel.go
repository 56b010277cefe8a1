package models

import (
	"time"
)

// Patient model. Only the contact fields the reminder engine needs are mapped here;
// the CRUD side owns the rest of the row.
type Patient struct {
	ID         string    `gorm:"primaryKey;column:id" json:"id"`
	FirstName  string    `gorm:"column:first_name;not null" json:"first_name"`
	LastName   string    `gorm:"column:last_name;not null;index" json:"last_name"`
	Phone      string    `gorm:"column:phone;index" json:"phone"`
	Email      string    `gorm:"column:email;index" json:"email"`
	PushToken  string    `gorm:"column:push_token" json:"push_token"`
	WhatsApp   string    `gorm:"column:whatsapp;index" json:"whatsapp"`
	WebhookURL string    `gorm:"column:webhook_url" json:"webhook_url"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Patient) TableName() string {
	return "patient"
}

func (p Patient) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// AddressFor returns the patient's address on a channel, empty when unknown.
func (p Patient) AddressFor(c Channel) string {
	switch c {
	case ChannelSMS, ChannelVoice:
		return p.Phone
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.PushToken
	case ChannelWhatsApp:
		if p.WhatsApp != "" {
			return p.WhatsApp
		}
		return p.Phone
	case ChannelWebhook:
		return p.WebhookURL
	}
	return ""
}

const (
	AppointmentScheduled = "scheduled"
	AppointmentFulfilled = "fulfilled"
	AppointmentCancelled = "cancelled"
	AppointmentNoShow    = "no_show"
)

// Appointment model
type Appointment struct {
	ID          uint       `gorm:"primaryKey;autoIncrement;column:id;index" json:"id"`
	PatientID   string     `gorm:"column:patient_id;not null;index" json:"patient_id"`
	DoctorID    string     `gorm:"column:doctor_id;index" json:"doctor_id"`
	StartTime   time.Time  `gorm:"column:start_time;not null;index" json:"start_time"`
	Type        string     `gorm:"column:type;index" json:"type"`
	Status      string     `gorm:"column:status;check:status IN ('scheduled', 'fulfilled', 'cancelled', 'no_show');not null" json:"status"`
	CancelledAt *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (Appointment) TableName() string {
	return "appointment"
}

func (a Appointment) IsCancelled() bool {
	return a.Status == AppointmentCancelled
}
