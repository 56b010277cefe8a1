package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoyRemind/metrics"
	"RoyRemind/models"

	"go.uber.org/zap"
)

// chainKeeper applies engine transitions and persists them. Every caller holds the
// patient lock.
type chainKeeper struct {
	stores                Stores
	engine                *EscalationEngine
	quota                 QuotaGuard
	defaultResponseWindow time.Duration
	logger                *zap.Logger
}

func (k *chainKeeper) contextFor(ctx context.Context, inst models.ReminderInstance, pref models.EffectivePreference, appt *models.Appointment) (EscalationContext, error) {
	ec := EscalationContext{
		Pref:                  pref,
		DefaultResponseWindow: k.defaultResponseWindow,
	}

	if appt == nil {
		var err error
		appt, err = k.stores.Appointments.GetAppointment(ctx, inst.AppointmentID)
		if err != nil {
			return ec, fmt.Errorf("failed to load appointment %d: %w", inst.AppointmentID, err)
		}
	}
	if appt == nil {
		// A deleted appointment behaves like a cancelled one.
		ec.AppointmentCancelled = true
		ec.AppointmentStart = inst.ScheduledSendTime
	} else {
		ec.AppointmentCancelled = appt.IsCancelled()
		ec.AppointmentStart = appt.StartTime
	}

	sched, err := k.stores.Schedules.GetSchedule(ctx, inst.ScheduleID)
	if err != nil {
		return ec, fmt.Errorf("failed to load schedule %d: %w", inst.ScheduleID, err)
	}
	if sched != nil {
		ec.Rules = sched.EscalationRules
		if rule, ok := sched.RuleByID(inst.RuleID); ok {
			ec.RuleChannels = rule.ChannelList()
		}
	}
	return ec, nil
}

// apply runs ev against inst and saves the result, retrying once against a fresh copy
// when another writer got there first.
func (k *chainKeeper) apply(ctx context.Context, inst models.ReminderInstance, ev Event, pref models.EffectivePreference, appt *models.Appointment) (*Transition, error) {
	ec, err := k.contextFor(ctx, inst, pref, appt)
	if err != nil {
		return nil, err
	}

	current := inst
	for attempt := 0; ; attempt++ {
		tr, err := k.engine.Apply(current, ev, ec)
		if err != nil {
			return nil, err
		}
		tr.Instance.DeadlineAt = nil
		if tr.Instance.State.Awaiting() {
			deadline := k.engine.NextDeadline(tr.Instance, ec)
			tr.Instance.DeadlineAt = &deadline
		}

		child, err := k.admitChild(ctx, tr.Child, pref, ev.At)
		if err != nil {
			return nil, err
		}

		childCreated, err := k.stores.Instances.UpdateInstance(ctx, &tr.Instance, child)
		if err == nil {
			tr.Child = child
			if child != nil && !childCreated {
				k.logger.Info("fallback slot already taken",
					zap.String("instance_id", inst.ID),
					zap.String("slot", child.DispatchKey()))
				tr.Child = nil
			}
			k.record(tr)
			return &tr, nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) || attempt > 0 {
			k.logger.Error("failed to save reminder transition",
				zap.String("instance_id", inst.ID),
				zap.String("event", string(ev.Kind)),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			return nil, err
		}

		metrics.ConcurrencyConflicts.Inc()
		fresh, gerr := k.stores.Instances.GetInstance(ctx, inst.ID)
		if gerr != nil {
			return nil, gerr
		}
		if fresh == nil {
			return nil, fmt.Errorf("%w: reminder instance %s", ErrNotFound, inst.ID)
		}
		current = *fresh
	}
}

// admitChild runs a fallback instance through the daily cap.
func (k *chainKeeper) admitChild(ctx context.Context, child *models.ReminderInstance, pref models.EffectivePreference, at time.Time) (*models.ReminderInstance, error) {
	if child == nil {
		return nil, nil
	}
	from, to := LocalDayBounds(child.ScheduledSendTime, pref.Location)
	existing, err := k.stores.Instances.ListByPatient(ctx, child.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load instances for quota: %w", err)
	}
	d := k.quota.Apply(pref, existing, []models.ReminderInstance{*child}, at)
	if len(d.Skipped) > 0 {
		k.logger.Info("fallback reminder skipped by daily cap",
			zap.String("patient_id", child.PatientID),
			zap.String("channel", string(child.Channel)))
		return &d.Skipped[0], nil
	}
	return &d.Accepted[0], nil
}

func (k *chainKeeper) record(tr Transition) {
	for _, s := range tr.Path {
		metrics.RecordTransition(string(s))
	}
	if tr.Child == nil {
		return
	}
	if tr.Child.State == models.StateSkippedQuota {
		metrics.QuotaSkipped.Inc()
		return
	}
	trigger := ""
	if tr.Rule != nil {
		trigger = string(tr.Rule.Trigger)
	}
	metrics.RecordEscalation(trigger, string(tr.Child.Channel))
	k.logger.Info("reminder escalated",
		zap.String("instance_id", tr.Instance.ID),
		zap.String("child_id", tr.Child.ID),
		zap.String("channel", string(tr.Child.Channel)),
		zap.Int("attempt", tr.Child.AttemptCount),
		zap.Time("send_at", tr.Child.ScheduledSendTime))
}
