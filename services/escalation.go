package services

import (
	"fmt"
	"time"

	"RoyRemind/models"
)

type EventKind string

const (
	EventSent         EventKind = "sent"
	EventSendRejected EventKind = "send_rejected"
	EventDelivered    EventKind = "delivered"
	EventFailed       EventKind = "failed"
	EventResponse     EventKind = "response"
	EventTimeout      EventKind = "timeout"
	EventCancel       EventKind = "cancel"
	EventSkipQuota    EventKind = "skip_quota"
)

// Event is an external signal about one reminder instance.
type Event struct {
	Kind   EventKind
	At     time.Time
	Reason string
}

// EscalationContext is everything the engine needs besides the instance itself.
type EscalationContext struct {
	Rules                 []models.EscalationRule
	RuleChannels          []models.Channel
	Pref                  models.EffectivePreference
	AppointmentStart      time.Time
	AppointmentCancelled  bool
	DefaultResponseWindow time.Duration
}

// MaxAttempts bounds a chain: the first send plus one per escalation rule.
func (ec EscalationContext) MaxAttempts() int {
	return len(ec.Rules) + 1
}

// Transition is the result of applying one event. Path lists every state entered, in
// order; Instance is the updated copy; Child is the fallback instance when escalated.
type Transition struct {
	From     models.InstanceState
	Path     []models.InstanceState
	Instance models.ReminderInstance
	Child    *models.ReminderInstance
	Rule     *models.EscalationRule
}

func (t Transition) To() models.InstanceState {
	return t.Instance.State
}

func (t *Transition) enter(s models.InstanceState) {
	t.Instance.State = s
	t.Path = append(t.Path, s)
}

func (t *Transition) close(s models.InstanceState, at time.Time, outcome string) {
	t.enter(s)
	closed := at
	t.Instance.ClosedAt = &closed
	t.Instance.LastOutcome = outcome
}

// EscalationEngine is the per-instance delivery state machine. It holds no state: the
// same instance, event and context always produce the same transition.
type EscalationEngine struct{}

func NewEscalationEngine() *EscalationEngine {
	return &EscalationEngine{}
}

// Apply runs one event against an instance.
func (e *EscalationEngine) Apply(inst models.ReminderInstance, ev Event, ec EscalationContext) (Transition, error) {
	tr := Transition{From: inst.State, Instance: inst}
	state := inst.State

	if state.IsClosed() {
		return tr, transitionError(state, ev.Kind)
	}

	switch ev.Kind {
	case EventCancel:
		tr.close(models.StateCancelled, ev.At, orDefault(ev.Reason, "cancelled"))

	case EventSkipQuota:
		if state != models.StatePending {
			return tr, transitionError(state, ev.Kind)
		}
		tr.close(models.StateSkippedQuota, ev.At, orDefault(ev.Reason, outcomeQuota))

	case EventSent:
		if state != models.StatePending {
			return tr, transitionError(state, ev.Kind)
		}
		sent := ev.At
		tr.Instance.SentAt = &sent
		tr.Instance.LastOutcome = orDefault(ev.Reason, "accepted by transport")
		tr.enter(models.StateSent)

	case EventSendRejected:
		if state != models.StatePending {
			return tr, transitionError(state, ev.Kind)
		}
		e.fail(&tr, ev, ec)

	case EventDelivered:
		if state != models.StateSent {
			return tr, transitionError(state, ev.Kind)
		}
		delivered := ev.At
		tr.Instance.DeliveredAt = &delivered
		tr.Instance.LastOutcome = "delivered"
		tr.enter(models.StateDelivered)

	case EventFailed:
		if state != models.StateSent {
			return tr, transitionError(state, ev.Kind)
		}
		e.fail(&tr, ev, ec)

	case EventResponse:
		if !state.Awaiting() {
			return tr, transitionError(state, ev.Kind)
		}
		deadline := e.NextDeadline(inst, ec)
		if !ev.At.Before(deadline) {
			// A reply after the deadline resolves exactly as if the timeout had been
			// processed first.
			e.timeout(&tr, deadline, ec)
			return tr, nil
		}
		responded := ev.At
		tr.Instance.RespondedAt = &responded
		tr.close(models.StateResponded, ev.At, orDefault(ev.Reason, "patient responded"))

	case EventTimeout:
		if !state.Awaiting() {
			return tr, transitionError(state, ev.Kind)
		}
		if ev.At.Before(e.NextDeadline(inst, ec)) {
			return tr, ErrNotDue
		}
		e.timeout(&tr, ev.At, ec)

	default:
		return tr, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev.Kind)
	}
	return tr, nil
}

type candidateRule struct {
	index    int
	rule     models.EscalationRule
	fallback models.Channel
	due      time.Time
}

// applicable lists the unconsumed timeout rules matching the instance's awaiting state
// and leading to a channel the chain has not used, in declaration order.
func (e *EscalationEngine) applicable(inst models.ReminderInstance, ec EscalationContext) []candidateRule {
	var out []candidateRule
	for i := inst.RuleCursor; i < len(ec.Rules); i++ {
		r := ec.Rules[i]
		base, ok := timeoutBase(inst, r.Trigger)
		if !ok {
			continue
		}
		fb, ok := fallbackChannel(inst, r, ec)
		if !ok {
			continue
		}
		out = append(out, candidateRule{index: i, rule: r, fallback: fb, due: base.Add(r.Delay())})
	}
	return out
}

// timeoutBase returns the instant a timeout trigger counts from in the current state.
func timeoutBase(inst models.ReminderInstance, trigger models.Trigger) (time.Time, bool) {
	switch {
	case trigger == models.TriggerNotDelivered && inst.State == models.StateSent && inst.SentAt != nil:
		return *inst.SentAt, true
	case trigger == models.TriggerNoResponse && inst.State == models.StateSent && inst.SentAt != nil:
		return *inst.SentAt, true
	case trigger == models.TriggerNoResponse && inst.State == models.StateDelivered && inst.DeliveredAt != nil:
		return *inst.DeliveredAt, true
	}
	return time.Time{}, false
}

// NextDeadline is when an awaiting instance times out: the earliest due applicable
// rule, or the default response window after the last transport event when none applies.
func (e *EscalationEngine) NextDeadline(inst models.ReminderInstance, ec EscalationContext) time.Time {
	var deadline time.Time
	for _, c := range e.applicable(inst, ec) {
		if deadline.IsZero() || c.due.Before(deadline) {
			deadline = c.due
		}
	}
	if !deadline.IsZero() {
		return deadline
	}
	return lastTransportEvent(inst).Add(ec.DefaultResponseWindow)
}

func lastTransportEvent(inst models.ReminderInstance) time.Time {
	switch {
	case inst.DeliveredAt != nil:
		return *inst.DeliveredAt
	case inst.SentAt != nil:
		return *inst.SentAt
	}
	return inst.ScheduledSendTime
}

func (e *EscalationEngine) timeout(tr *Transition, at time.Time, ec EscalationContext) {
	inst := tr.Instance
	tr.enter(models.StateExpired)

	if ec.AppointmentCancelled {
		tr.close(models.StateCancelled, at, "appointment cancelled")
		return
	}
	for _, c := range e.applicable(inst, ec) {
		if c.due.After(at) {
			continue
		}
		e.escalate(tr, c, at, ec)
		return
	}
	tr.close(models.StateExhausted, at, "no response and no escalation rule applies")
}

func (e *EscalationEngine) fail(tr *Transition, ev Event, ec EscalationContext) {
	inst := tr.Instance
	tr.enter(models.StateFailed)
	tr.Instance.LastOutcome = orDefault(ev.Reason, "send failed")

	if ec.AppointmentCancelled {
		tr.close(models.StateCancelled, ev.At, "appointment cancelled")
		return
	}
	for i := inst.RuleCursor; i < len(ec.Rules); i++ {
		r := ec.Rules[i]
		if r.Trigger != models.TriggerSendFailed {
			continue
		}
		fb, ok := fallbackChannel(inst, r, ec)
		if !ok {
			continue
		}
		e.escalate(tr, candidateRule{index: i, rule: r, fallback: fb, due: ev.At}, ev.At.Add(r.Delay()), ec)
		return
	}
	tr.close(models.StateExhausted, ev.At, "send failed and no escalation rule applies: "+tr.Instance.LastOutcome)
}

// escalate closes the instance as escalated and builds the fallback instance, sent no
// earlier than from and inside the patient's allowed hours.
func (e *EscalationEngine) escalate(tr *Transition, c candidateRule, from time.Time, ec EscalationContext) {
	parent := tr.Instance
	at := c.due
	if from.Before(at) {
		from = at
	}
	if parent.AttemptCount >= ec.MaxAttempts() {
		tr.close(models.StateExhausted, at, "maximum attempts reached")
		return
	}

	sendAt, ok := NextAllowed(from.Truncate(time.Minute), ec.Pref)
	if !ok || !sendAt.Before(ec.AppointmentStart) {
		tr.close(models.StateExhausted, at, "no time left to escalate before the appointment")
		return
	}

	parentID := parent.ID
	child := models.ReminderInstance{
		AppointmentID:     parent.AppointmentID,
		PatientID:         parent.PatientID,
		ScheduleID:        parent.ScheduleID,
		RuleID:            parent.RuleID,
		TemplateID:        parent.TemplateID,
		OffsetMinutes:     parent.OffsetMinutes,
		Channel:           c.fallback,
		AttemptCount:      parent.AttemptCount + 1,
		RuleCursor:        c.index + 1,
		ChainChannels:     append(append([]string(nil), parent.ChainChannels...), string(c.fallback)),
		ParentID:          &parentID,
		ScheduledSendTime: sendAt.UTC(),
		State:             models.StatePending,
		LastOutcome:       fmt.Sprintf("escalated from %s (%s)", parent.Channel, c.rule.Trigger),
	}
	child.ID = InstanceID(child)

	rule := c.rule
	tr.Child = &child
	tr.Rule = &rule
	tr.close(models.StateEscalated, at, fmt.Sprintf("escalated to %s (%s)", c.fallback, c.rule.Trigger))
}

// fallbackChannel picks the rule's configured channel, or the reminder rule's next
// channel the chain has not used yet.
func fallbackChannel(inst models.ReminderInstance, r models.EscalationRule, ec EscalationContext) (models.Channel, bool) {
	if r.FallbackChannel != "" {
		if inst.UsedChannel(r.FallbackChannel) {
			return "", false
		}
		return r.FallbackChannel, true
	}
	for _, c := range ec.RuleChannels {
		if !inst.UsedChannel(c) {
			return c, true
		}
	}
	return "", false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
