package services

import (
	"context"
	"time"

	"RoyRemind/models"
)

// Lookups return (nil, nil) when the record does not exist.

type AppointmentStore interface {
	GetAppointment(ctx context.Context, id uint) (*models.Appointment, error)
	MarkAppointmentCancelled(ctx context.Context, id uint, at time.Time) error
	// AttendanceStats counts past appointments in [since, until) and how many were no-shows.
	AttendanceStats(ctx context.Context, patientID string, since, until time.Time) (total int, noShows int, err error)
}

type PatientStore interface {
	GetPatient(ctx context.Context, id string) (*models.Patient, error)
	// EvictPatient drops any cached copy so the next read sees current contact details.
	EvictPatient(ctx context.Context, id string)
}

type PreferenceStore interface {
	GetPreference(ctx context.Context, patientID string) (*models.PatientPreference, error)
	UpsertPreference(ctx context.Context, pref *models.PatientPreference) error
	SetOptedOut(ctx context.Context, patientID string, optedOut bool) error
}

type ScheduleStore interface {
	// ListActiveSchedules returns active schedules whose type filter is null or equals
	// appointmentType, with rules and escalation rules ordered by position.
	ListActiveSchedules(ctx context.Context, appointmentType string) ([]models.ReminderSchedule, error)
	GetSchedule(ctx context.Context, id uint) (*models.ReminderSchedule, error)
	CreateSchedule(ctx context.Context, schedule *models.ReminderSchedule) error
}

type TemplateStore interface {
	GetTemplate(ctx context.Context, id string) (*models.ReminderTemplate, error)
	// ExistingTemplates reports which of ids are present.
	ExistingTemplates(ctx context.Context, ids []string) (map[string]bool, error)
}

type InstanceStore interface {
	// CreateInstances inserts new rows and returns the ones actually written; rows whose
	// slot already exists are ignored.
	CreateInstances(ctx context.Context, instances []models.ReminderInstance) ([]models.ReminderInstance, error)
	GetInstance(ctx context.Context, id string) (*models.ReminderInstance, error)
	ListByAppointment(ctx context.Context, appointmentID uint) ([]models.ReminderInstance, error)
	// ListByPatient returns the patient's instances with scheduled_send_time in [from, to).
	ListByPatient(ctx context.Context, patientID string, from, to time.Time) ([]models.ReminderInstance, error)
	// ListOpenByPatient returns instances in pending, sent or delivered.
	ListOpenByPatient(ctx context.Context, patientID string) ([]models.ReminderInstance, error)
	// ListDue returns pending instances with scheduled_send_time <= now ordered by
	// scheduled_send_time, then patient_id.
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ReminderInstance, error)
	// ListTimedOut returns sent and delivered instances whose deadline_at <= now, earliest
	// deadline first.
	ListTimedOut(ctx context.Context, now time.Time, limit int) ([]models.ReminderInstance, error)
	// UpdateInstance writes inst if its stored version equals inst.Version and bumps the
	// version, inserting child in the same transaction when non-nil. It reports whether
	// child was written; a child whose slot is already taken is dropped. A moved version
	// returns ErrConcurrencyConflict and writes nothing.
	UpdateInstance(ctx context.Context, inst *models.ReminderInstance, child *models.ReminderInstance) (bool, error)
}

type LogStore interface {
	AppendLog(ctx context.Context, log *models.CommunicationLog) error
	FindLogByExternalID(ctx context.Context, externalID string) (*models.CommunicationLog, error)
	// RecentLogsForRecipient returns logs to the address sent at or after since, newest first.
	RecentLogsForRecipient(ctx context.Context, address string, since time.Time) ([]models.CommunicationLog, error)
	LatestLogs(ctx context.Context, instanceIDs []string) (map[string]models.CommunicationLog, error)
	MarkDelivered(ctx context.Context, logID string, status models.LogStatus, at time.Time) error
	MarkFailed(ctx context.Context, logID string, reason string, at time.Time) error
	RecordResponse(ctx context.Context, logID string, payload, sentiment string, at time.Time) error
	ListLogsSince(ctx context.Context, since time.Time) ([]models.CommunicationLog, error)
	ListLogsByPatient(ctx context.Context, patientID string, since time.Time) ([]models.CommunicationLog, error)
}

type ScoreStore interface {
	UpsertScore(ctx context.Context, score *models.EngagementScore) error
	GetScore(ctx context.Context, patientID string) (*models.EngagementScore, error)
}

// Stores bundles the persistence boundary.
type Stores struct {
	Appointments AppointmentStore
	Patients     PatientStore
	Preferences  PreferenceStore
	Schedules    ScheduleStore
	Templates    TemplateStore
	Instances    InstanceStore
	Logs         LogStore
	Scores       ScoreStore
}

// RecipientInfo is where and to whom a message goes.
type RecipientInfo struct {
	PatientID string
	Name      string
	Address   string
}

type RenderedMessage struct {
	Subject string
	Body    string
}

// SendResult is the transport's answer. A non-nil error from Send counts as a rejection.
type SendResult struct {
	Accepted   bool
	ExternalID string
	Error      string
	Cost       float64
}

// NotificationSender is the outbound transport.
type NotificationSender interface {
	Send(ctx context.Context, channel models.Channel, recipient RecipientInfo, message RenderedMessage) (SendResult, error)
}
