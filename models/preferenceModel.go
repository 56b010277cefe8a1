package models

import (
	"time"
)

// PatientPreference model, one row per patient. Empty fields fall back to system defaults.
type PatientPreference struct {
	PatientID               string    `gorm:"primaryKey;column:patient_id" json:"patient_id"`
	PreferredChannel        string    `gorm:"column:preferred_channel" json:"preferred_channel"`
	ContactWindowStart      string    `gorm:"column:contact_window_start" json:"contact_window_start"`
	ContactWindowEnd        string    `gorm:"column:contact_window_end" json:"contact_window_end"`
	Timezone                string    `gorm:"column:timezone" json:"timezone"`
	DNDStart                string    `gorm:"column:dnd_start" json:"dnd_start"`
	DNDEnd                  string    `gorm:"column:dnd_end" json:"dnd_end"`
	MaxRemindersPerDay      *int      `gorm:"column:max_reminders_per_day" json:"max_reminders_per_day"`
	EmergencyContactAllowed bool      `gorm:"column:emergency_contact_allowed;not null;default:false" json:"emergency_contact_allowed"`
	OptedOut                bool      `gorm:"column:opted_out;not null;default:false" json:"opted_out"`
	UpdatedAt               time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PatientPreference) TableName() string {
	return "patient_preference"
}

// EffectivePreference is a patient's preference merged over system defaults.
type EffectivePreference struct {
	PatientID               string
	Channel                 Channel
	ContactWindow           DailyWindow
	Timezone                string
	Location                *time.Location
	DND                     DailyWindow
	MaxPerDay               int
	EmergencyContactAllowed bool
	OptedOut                bool
}

// LocalDay returns the patient-local calendar day of t as YYYY-MM-DD.
func (p EffectivePreference) LocalDay(t time.Time) string {
	return t.In(p.Location).Format("2006-01-02")
}
