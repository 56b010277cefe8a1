package models

import (
	"time"
)

// LogStatus is the transport status recorded on a communication log row.
type LogStatus string

const (
	LogQueued    LogStatus = "queued"
	LogSent      LogStatus = "sent"
	LogDelivered LogStatus = "delivered"
	LogFailed    LogStatus = "failed"
	LogRead      LogStatus = "read"
)

// CountsAsSent reports whether the transport accepted the message.
func (s LogStatus) CountsAsSent() bool {
	return s == LogSent || s == LogDelivered || s == LogRead
}

// CommunicationLog model. Append-only: after insert only the delivery/read/failure/response
// timestamps, the response payload and the status promotion are written.
type CommunicationLog struct {
	ID              string     `gorm:"primaryKey;column:id" json:"id"`
	InstanceID      string     `gorm:"column:instance_id;not null;index" json:"instance_id"`
	AppointmentID   uint       `gorm:"column:appointment_id;not null;index" json:"appointment_id"`
	PatientID       string     `gorm:"column:patient_id;not null;index" json:"patient_id"`
	Channel         Channel    `gorm:"column:channel;not null" json:"channel"`
	Recipient       string     `gorm:"column:recipient;index" json:"recipient"`
	AttemptCount    int        `gorm:"column:attempt_count;not null" json:"attempt_count"`
	Status          LogStatus  `gorm:"column:status;not null" json:"status"`
	ExternalID      string     `gorm:"column:external_id;index" json:"external_id,omitempty"`
	Error           string     `gorm:"column:error" json:"error,omitempty"`
	ResponsePayload string     `gorm:"column:response_payload;type:text" json:"response_payload,omitempty"`
	Sentiment       string     `gorm:"column:sentiment" json:"sentiment,omitempty"`
	Cost            float64    `gorm:"column:cost" json:"cost"`
	QueuedAt        time.Time  `gorm:"column:queued_at;not null" json:"queued_at"`
	SentAt          *time.Time `gorm:"column:sent_at" json:"sent_at,omitempty"`
	DeliveredAt     *time.Time `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	ReadAt          *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	FailedAt        *time.Time `gorm:"column:failed_at" json:"failed_at,omitempty"`
	RespondedAt     *time.Time `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (CommunicationLog) TableName() string {
	return "communication_log"
}

// EngagementScore model, a read-model recomputed from the communication log.
type EngagementScore struct {
	PatientID    string    `gorm:"primaryKey;column:patient_id" json:"patient_id"`
	Score        float64   `gorm:"column:score;not null" json:"score"`
	ResponseRate float64   `gorm:"column:response_rate;not null" json:"response_rate"`
	DeliveryRate float64   `gorm:"column:delivery_rate;not null" json:"delivery_rate"`
	NoShowRisk   float64   `gorm:"column:no_show_risk;not null" json:"no_show_risk"`
	Sent         int       `gorm:"column:sent;not null" json:"sent"`
	Responded    int       `gorm:"column:responded;not null" json:"responded"`
	NoShows      int       `gorm:"column:no_shows;not null" json:"no_shows"`
	ComputedAt   time.Time `gorm:"column:computed_at;not null" json:"computed_at"`
}

func (EngagementScore) TableName() string {
	return "engagement_score"
}
