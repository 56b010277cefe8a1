package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"RoyRemind/models"

	"github.com/google/uuid"
)

// maxClipRounds bounds the contact-window/DND adjustment loop. Two rounds settle any
// pair of windows that leave an allowed minute; more means there is none.
const maxClipRounds = 4

var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("roy-remind/reminder-instance"))

// InstanceID derives the instance primary key from its dispatch slot, so a re-resolved
// or replayed instance always gets the same ID.
func InstanceID(inst models.ReminderInstance) string {
	return uuid.NewSHA1(instanceNamespace, []byte(inst.DispatchKey())).String()
}

// NextAllowed returns the first minute at or after t that lies inside the contact window
// and outside the DND window, in the patient's timezone. An empty contact window allows
// the whole day. ok is false when no such minute can be found.
func NextAllowed(t time.Time, pref models.EffectivePreference) (time.Time, bool) {
	loc := pref.Location
	for i := 0; i < maxClipRounds; i++ {
		moved := false
		if !pref.ContactWindow.IsEmpty() && !pref.ContactWindow.ContainsInstant(t, loc) {
			t = pref.ContactWindow.NextStart(t, loc)
			moved = true
		}
		if !pref.DND.IsEmpty() && pref.DND.ContainsInstant(t, loc) {
			t = pref.DND.EndAfter(t, loc)
			moved = true
		}
		if !moved {
			return t, true
		}
	}
	return t, false
}

// ResolveSendTime turns one offset into an absolute send time for an appointment.
// Same-day rules (bypass) skip the contact window and only step out of DND; they may
// land exactly on the start time. Everything else must land strictly before start.
func ResolveSendTime(start time.Time, offsetMinutes int, pref models.EffectivePreference, bypass bool) (time.Time, bool) {
	candidate := start.Add(-time.Duration(offsetMinutes) * time.Minute).Truncate(time.Minute)

	if bypass {
		t := candidate
		if !pref.DND.IsEmpty() && pref.DND.ContainsInstant(t, pref.Location) {
			t = pref.DND.EndAfter(t, pref.Location)
		}
		if t.After(start) {
			return time.Time{}, false
		}
		return t, true
	}

	t, ok := NextAllowed(candidate, pref)
	if !ok || !t.Before(start) {
		return time.Time{}, false
	}
	return t, true
}

type TimingResolver struct {
	templates            TemplateStore
	sameDayBypassMinutes int
}

func NewTimingResolver(templates TemplateStore, sameDayBypassMinutes int) *TimingResolver {
	return &TimingResolver{templates: templates, sameDayBypassMinutes: sameDayBypassMinutes}
}

// Validate checks a schedule's rules. Problems come back as a *ScheduleConfigError.
func (r *TimingResolver) Validate(ctx context.Context, sched models.ReminderSchedule) error {
	var problems []string

	ids := make([]string, 0, len(sched.Rules))
	for _, rule := range sched.Rules {
		if rule.TemplateID != "" {
			ids = append(ids, rule.TemplateID)
		}
	}
	existing := map[string]bool{}
	if len(ids) > 0 {
		var err error
		existing, err = r.templates.ExistingTemplates(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to check templates for schedule %d: %w", sched.ID, err)
		}
	}

	for _, rule := range sched.Rules {
		if rule.OffsetMinutes < 0 {
			problems = append(problems, fmt.Sprintf("rule %d: negative offset %d", rule.ID, rule.OffsetMinutes))
		}
		if len(rule.Channels) == 0 {
			problems = append(problems, fmt.Sprintf("rule %d: no channels", rule.ID))
		}
		for _, c := range rule.ChannelList() {
			if !c.Valid() {
				problems = append(problems, fmt.Sprintf("rule %d: invalid channel %q", rule.ID, c))
			}
		}
		switch {
		case rule.TemplateID == "":
			problems = append(problems, fmt.Sprintf("rule %d: no template", rule.ID))
		case !existing[rule.TemplateID]:
			problems = append(problems, fmt.Sprintf("rule %d: template %q does not exist", rule.ID, rule.TemplateID))
		}
	}

	for _, esc := range sched.EscalationRules {
		if !esc.Trigger.Valid() {
			problems = append(problems, fmt.Sprintf("escalation rule %d: unknown trigger %q", esc.ID, esc.Trigger))
		}
		if esc.DelayMinutes < 0 {
			problems = append(problems, fmt.Sprintf("escalation rule %d: negative delay", esc.ID))
		}
		if esc.FallbackChannel != "" && !esc.FallbackChannel.Valid() {
			problems = append(problems, fmt.Sprintf("escalation rule %d: invalid fallback channel %q", esc.ID, esc.FallbackChannel))
		}
	}

	if len(problems) > 0 {
		return &ScheduleConfigError{ScheduleID: sched.ID, Problems: problems}
	}
	return nil
}

// Resolve produces the pending instances one schedule yields for one appointment.
// Rules that cannot land before the appointment, or whose time has already passed, are
// dropped. A misconfigured schedule yields no instances and a *ScheduleConfigError.
func (r *TimingResolver) Resolve(ctx context.Context, appt models.Appointment, sched models.ReminderSchedule, pref models.EffectivePreference, now time.Time) ([]models.ReminderInstance, error) {
	if err := r.Validate(ctx, sched); err != nil {
		return nil, err
	}

	floor := now.Truncate(time.Minute)
	out := make([]models.ReminderInstance, 0, len(sched.Rules))
	for _, rule := range sched.Rules {
		bypass := rule.OffsetMinutes <= r.sameDayBypassMinutes
		at, ok := ResolveSendTime(appt.StartTime, rule.OffsetMinutes, pref, bypass)
		if !ok || at.Before(floor) {
			continue
		}
		channel := pickChannel(rule, pref)
		inst := models.ReminderInstance{
			AppointmentID:     appt.ID,
			PatientID:         appt.PatientID,
			ScheduleID:        sched.ID,
			RuleID:            rule.ID,
			TemplateID:        rule.TemplateID,
			OffsetMinutes:     rule.OffsetMinutes,
			Channel:           channel,
			AttemptCount:      1,
			ScheduledSendTime: at.UTC(),
			State:             models.StatePending,
			ChainChannels:     []string{string(channel)},
		}
		inst.ID = InstanceID(inst)
		out = append(out, inst)
	}
	return CollapseSameMinute(out), nil
}

// pickChannel honours the patient's preferred channel when the rule offers it.
func pickChannel(rule models.ReminderRule, pref models.EffectivePreference) models.Channel {
	channels := rule.ChannelList()
	for _, c := range channels {
		if c == pref.Channel {
			return c
		}
	}
	return channels[0]
}

// CollapseSameMinute keeps one instance per (send minute, channel): the one with the
// larger offset. The result is ordered by send time, then larger offset first.
func CollapseSameMinute(insts []models.ReminderInstance) []models.ReminderInstance {
	sorted := append([]models.ReminderInstance(nil), insts...)
	sortBySendTime(sorted)

	type slot struct {
		minute  int64
		channel models.Channel
	}
	seen := make(map[slot]bool, len(sorted))
	out := sorted[:0]
	for _, inst := range sorted {
		k := slot{minute: inst.ScheduledSendTime.Unix() / 60, channel: inst.Channel}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, inst)
	}
	return out
}

func sortBySendTime(insts []models.ReminderInstance) {
	sort.SliceStable(insts, func(i, j int) bool {
		a, b := insts[i], insts[j]
		if !a.ScheduledSendTime.Equal(b.ScheduledSendTime) {
			return a.ScheduledSendTime.Before(b.ScheduledSendTime)
		}
		if a.OffsetMinutes != b.OffsetMinutes {
			return a.OffsetMinutes > b.OffsetMinutes
		}
		return a.RuleID < b.RuleID
	})
}
