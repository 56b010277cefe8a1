package services

import (
	"time"

	"RoyRemind/models"
)

const outcomeQuota = "daily reminder cap reached"

// QuotaDecision splits candidates into those that fit under the daily cap and those
// marked skipped_quota. Skipping is a routine outcome, not an error.
type QuotaDecision struct {
	Accepted []models.ReminderInstance
	Skipped  []models.ReminderInstance
}

// QuotaGuard enforces the per-patient daily cap, counted per patient-local calendar day.
type QuotaGuard struct{}

// countsTowardCap reports whether an existing instance occupies a slot in its day.
func countsTowardCap(inst models.ReminderInstance) bool {
	return inst.State != models.StateCancelled && inst.State != models.StateSkippedQuota
}

// Apply walks the candidates in ascending send time and admits each one while its local
// day is under the cap. existing are the patient's instances already persisted.
func (QuotaGuard) Apply(pref models.EffectivePreference, existing, candidates []models.ReminderInstance, now time.Time) QuotaDecision {
	ordered := append([]models.ReminderInstance(nil), candidates...)
	sortBySendTime(ordered)

	if pref.MaxPerDay == 0 {
		return QuotaDecision{Accepted: ordered}
	}

	perDay := make(map[string]int)
	for _, inst := range existing {
		if countsTowardCap(inst) {
			perDay[pref.LocalDay(inst.ScheduledSendTime)]++
		}
	}

	var d QuotaDecision
	for _, c := range ordered {
		day := pref.LocalDay(c.ScheduledSendTime)
		if perDay[day] >= pref.MaxPerDay {
			closed := now
			c.State = models.StateSkippedQuota
			c.LastOutcome = outcomeQuota
			c.ClosedAt = &closed
			d.Skipped = append(d.Skipped, c)
			continue
		}
		perDay[day]++
		d.Accepted = append(d.Accepted, c)
	}
	return d
}

// SentOnDay counts instances in the list that were handed to a transport and whose
// send time falls on the same patient-local day as at.
func (QuotaGuard) SentOnDay(pref models.EffectivePreference, insts []models.ReminderInstance, at time.Time) int {
	day := pref.LocalDay(at)
	n := 0
	for _, inst := range insts {
		if inst.SentAt != nil && pref.LocalDay(inst.ScheduledSendTime) == day {
			n++
		}
	}
	return n
}

// LocalDayBounds returns [start, end) of the patient-local calendar day containing at.
func LocalDayBounds(at time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := at.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
