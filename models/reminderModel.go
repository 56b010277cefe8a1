package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// ReminderTemplate model
type ReminderTemplate struct {
	ID        string    `gorm:"primaryKey;column:id" json:"id"`
	Subject   string    `gorm:"column:subject" json:"subject"`
	Body      string    `gorm:"column:body;type:text;not null" json:"body"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ReminderTemplate) TableName() string {
	return "reminder_template"
}

// ReminderSchedule model. A nil AppointmentType applies to every appointment type.
type ReminderSchedule struct {
	ID              uint             `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	Name            string           `gorm:"column:name" json:"name"`
	AppointmentType *string          `gorm:"column:appointment_type;index" json:"appointment_type"`
	IsActive        bool             `gorm:"column:is_active;not null;default:true;index" json:"is_active"`
	Rules           []ReminderRule   `gorm:"foreignKey:ScheduleID;references:ID;constraint:OnDelete:CASCADE" json:"rules"`
	EscalationRules []EscalationRule `gorm:"foreignKey:ScheduleID;references:ID;constraint:OnDelete:CASCADE" json:"escalation_rules"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (ReminderSchedule) TableName() string {
	return "reminder_schedule"
}

// AppliesTo reports whether the schedule covers the given appointment type.
func (s ReminderSchedule) AppliesTo(appointmentType string) bool {
	return s.AppointmentType == nil || *s.AppointmentType == appointmentType
}

// RuleByID finds one of the schedule's reminder rules.
func (s ReminderSchedule) RuleByID(id uint) (ReminderRule, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return ReminderRule{}, false
}

// ReminderRule model
type ReminderRule struct {
	ID            uint           `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ScheduleID    uint           `gorm:"column:schedule_id;not null;index" json:"schedule_id"`
	Position      int            `gorm:"column:position;not null" json:"position"`
	OffsetMinutes int            `gorm:"column:offset_minutes;not null" json:"offset_minutes"`
	Channels      pq.StringArray `gorm:"column:channels;type:text[];not null" json:"channels"`
	TemplateID    string         `gorm:"column:template_id;not null" json:"template_id"`
}

func (ReminderRule) TableName() string {
	return "reminder_rule"
}

// ChannelList returns the rule's channels in priority order, first = primary.
func (r ReminderRule) ChannelList() []Channel {
	out := make([]Channel, len(r.Channels))
	for i, c := range r.Channels {
		out[i] = Channel(c)
	}
	return out
}

// Trigger is the condition under which an escalation rule fires.
type Trigger string

const (
	TriggerNoResponse   Trigger = "no_response"
	TriggerNotDelivered Trigger = "not_delivered"
	TriggerSendFailed   Trigger = "send_failed"
)

func (t Trigger) Valid() bool {
	return t == TriggerNoResponse || t == TriggerNotDelivered || t == TriggerSendFailed
}

const defaultLegacyDelayMinutes = 24 * 60

var (
	afterMinutesPattern = regexp.MustCompile(`^(no_response|not_delivered)_after_minutes:(\d+)$`)
	hoursPattern        = regexp.MustCompile(`^(no_response|not_delivered)_(\d+)h$`)
)

// ParsedTrigger is the normalized form of a trigger string.
// DelayMinutes is -1 when the string carries no delay.
type ParsedTrigger struct {
	Trigger      Trigger
	DelayMinutes int
	Fallback     Channel
}

// ParseTrigger accepts canonical triggers ("no_response") as well as the free-text forms
// found in older schedule configuration ("no_response_after_minutes:1440", "no_response_24h",
// "no_response_email").
func ParseTrigger(raw string) (ParsedTrigger, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if t := Trigger(s); t.Valid() {
		return ParsedTrigger{Trigger: t, DelayMinutes: -1}, nil
	}
	if m := afterMinutesPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		return ParsedTrigger{Trigger: Trigger(m[1]), DelayMinutes: n}, nil
	}
	if m := hoursPattern.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[2])
		return ParsedTrigger{Trigger: Trigger(m[1]), DelayMinutes: n * 60}, nil
	}
	if rest, ok := strings.CutPrefix(s, string(TriggerNoResponse)+"_"); ok {
		if c, err := ParseChannel(rest); err == nil {
			return ParsedTrigger{Trigger: TriggerNoResponse, DelayMinutes: defaultLegacyDelayMinutes, Fallback: c}, nil
		}
	}
	return ParsedTrigger{}, fmt.Errorf("unknown escalation trigger %q", raw)
}

// EscalationRule model. DelayMinutes is the elapsed time that arms no_response/not_delivered,
// and the wait before the fallback send for send_failed.
type EscalationRule struct {
	ID              uint    `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	ScheduleID      uint    `gorm:"column:schedule_id;not null;index" json:"schedule_id"`
	Position        int     `gorm:"column:position;not null" json:"position"`
	Trigger         Trigger `gorm:"column:trigger;not null" json:"trigger"`
	DelayMinutes    int     `gorm:"column:delay_minutes;not null" json:"delay_minutes"`
	FallbackChannel Channel `gorm:"column:fallback_channel" json:"fallback_channel,omitempty"`
}

func (EscalationRule) TableName() string {
	return "escalation_rule"
}

func (r EscalationRule) Delay() time.Duration {
	return time.Duration(r.DelayMinutes) * time.Minute
}

// InstanceState is the delivery state of one reminder instance.
type InstanceState string

const (
	StatePending      InstanceState = "pending"
	StateSent         InstanceState = "sent"
	StateDelivered    InstanceState = "delivered"
	StateFailed       InstanceState = "failed"
	StateExpired      InstanceState = "expired"
	StateResponded    InstanceState = "responded"
	StateEscalated    InstanceState = "escalated"
	StateExhausted    InstanceState = "exhausted"
	StateCancelled    InstanceState = "cancelled"
	StateSkippedQuota InstanceState = "skipped_quota"
)

// IsTerminal reports the states that end a reminder chain.
func (s InstanceState) IsTerminal() bool {
	return s == StateResponded || s == StateExhausted || s == StateCancelled
}

// IsClosed reports whether the instance accepts no further events. Escalated hands the
// chain over to the fallback instance; skipped_quota never entered the delivery machine.
func (s InstanceState) IsClosed() bool {
	return s.IsTerminal() || s == StateEscalated || s == StateSkippedQuota
}

var stateRank = map[InstanceState]int{
	StatePending:      0,
	StateSent:         1,
	StateDelivered:    2,
	StateFailed:       3,
	StateExpired:      3,
	StateResponded:    4,
	StateEscalated:    4,
	StateExhausted:    5,
	StateCancelled:    5,
	StateSkippedQuota: 5,
}

// Rank orders states along the delivery lifecycle. Every transition strictly increases it.
func (s InstanceState) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// Awaiting reports states that wait on the transport or the patient.
func (s InstanceState) Awaiting() bool {
	return s == StateSent || s == StateDelivered
}

// ReminderInstance model. One row per send attempt; escalation creates a child row
// with AttemptCount+1 on the fallback channel.
type ReminderInstance struct {
	ID                string         `gorm:"primaryKey;column:id" json:"id"`
	AppointmentID     uint           `gorm:"column:appointment_id;not null;uniqueIndex:idx_instance_slot,priority:1;index" json:"appointment_id"`
	PatientID         string         `gorm:"column:patient_id;not null;index" json:"patient_id"`
	ScheduleID        uint           `gorm:"column:schedule_id;not null" json:"schedule_id"`
	RuleID            uint           `gorm:"column:rule_id;not null;uniqueIndex:idx_instance_slot,priority:2" json:"rule_id"`
	Channel           Channel        `gorm:"column:channel;not null;uniqueIndex:idx_instance_slot,priority:3" json:"channel"`
	AttemptCount      int            `gorm:"column:attempt_count;not null;uniqueIndex:idx_instance_slot,priority:4" json:"attempt_count"`
	TemplateID        string         `gorm:"column:template_id;not null" json:"template_id"`
	OffsetMinutes     int            `gorm:"column:offset_minutes;not null" json:"offset_minutes"`
	ScheduledSendTime time.Time      `gorm:"column:scheduled_send_time;not null;index" json:"scheduled_send_time"`
	State             InstanceState  `gorm:"column:state;not null;index" json:"state"`
	LastOutcome       string         `gorm:"column:last_outcome" json:"last_outcome"`
	RuleCursor        int            `gorm:"column:rule_cursor;not null;default:0" json:"rule_cursor"`
	ChainChannels     pq.StringArray `gorm:"column:chain_channels;type:text[]" json:"chain_channels"`
	ParentID          *string        `gorm:"column:parent_id" json:"parent_id,omitempty"`
	SentAt            *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time     `gorm:"column:delivered_at" json:"delivered_at,omitempty"`
	RespondedAt       *time.Time     `gorm:"column:responded_at" json:"responded_at,omitempty"`
	ClosedAt          *time.Time     `gorm:"column:closed_at" json:"closed_at,omitempty"`
	DeadlineAt        *time.Time     `gorm:"column:deadline_at;index" json:"deadline_at,omitempty"`
	Version           int            `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ReminderInstance) TableName() string {
	return "reminder_instance"
}

// SlotKey identifies the (appointment, rule, channel) slot an instance occupies.
func (i ReminderInstance) SlotKey() string {
	return fmt.Sprintf("%d:%d:%s", i.AppointmentID, i.RuleID, i.Channel)
}

// TimingSlotKey identifies the (appointment, rule) timing slot a chain root occupies,
// whatever channel it was scheduled on.
func (i ReminderInstance) TimingSlotKey() string {
	return fmt.Sprintf("%d:%d", i.AppointmentID, i.RuleID)
}

// DispatchKey is the idempotency key for one send attempt.
func (i ReminderInstance) DispatchKey() string {
	return fmt.Sprintf("%d:%d:%s:%d", i.AppointmentID, i.RuleID, i.Channel, i.AttemptCount)
}

// UsedChannel reports whether the chain this instance belongs to already used c.
func (i ReminderInstance) UsedChannel(c Channel) bool {
	for _, used := range i.ChainChannels {
		if used == string(c) {
			return true
		}
	}
	return false
}
