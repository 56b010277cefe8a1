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

type ReminderServiceConfig struct {
	SameDayBypassMinutes   int
	ReplyCorrelationWindow time.Duration
	DefaultResponseWindow  time.Duration
}

// ReminderService is the entry point for scheduling, cancellation and transport callbacks.
type ReminderService struct {
	keeper            *chainKeeper
	prefs             *PreferenceResolver
	timing            *TimingResolver
	locker            PatientLocker
	correlationWindow time.Duration
	logger            *zap.Logger
}

func NewReminderService(stores Stores, prefs *PreferenceResolver, locker PatientLocker, cfg ReminderServiceConfig, logger *zap.Logger) *ReminderService {
	return &ReminderService{
		keeper: &chainKeeper{
			stores:                stores,
			engine:                NewEscalationEngine(),
			defaultResponseWindow: cfg.DefaultResponseWindow,
			logger:                logger,
		},
		prefs:             prefs,
		timing:            NewTimingResolver(stores.Templates, cfg.SameDayBypassMinutes),
		locker:            locker,
		correlationWindow: cfg.ReplyCorrelationWindow,
		logger:            logger,
	}
}

// ScheduleResult reports what scheduling one appointment produced.
type ScheduleResult struct {
	Created      []models.ReminderInstance `json:"created"`
	SkippedQuota []models.ReminderInstance `json:"skipped_quota"`
	ConfigErrors []*ScheduleConfigError    `json:"-"`
	OptedOut     bool                      `json:"opted_out"`
}

// ScheduleAppointment resolves every active schedule matching the appointment into
// reminder instances. Scheduling is idempotent: slots that already exist are left alone.
// A misconfigured schedule is reported in the result and does not affect the others.
func (s *ReminderService) ScheduleAppointment(ctx context.Context, appointmentID uint, now time.Time) (*ScheduleResult, error) {
	stores := s.keeper.stores

	appt, err := stores.Appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment %d: %w", appointmentID, err)
	}
	if appt == nil {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotFound, appointmentID)
	}
	if appt.IsCancelled() {
		return nil, ErrAppointmentCancelled
	}

	unlock, err := s.locker.Lock(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// A cancel may have committed while the lock was being acquired.
	appt, err = stores.Appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment %d: %w", appointmentID, err)
	}
	if appt == nil {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotFound, appointmentID)
	}
	if appt.IsCancelled() {
		return nil, ErrAppointmentCancelled
	}

	result := &ScheduleResult{}
	pref := s.prefs.Resolve(ctx, appt.PatientID)
	if pref.OptedOut {
		result.OptedOut = true
		return result, nil
	}

	schedules, err := stores.Schedules.ListActiveSchedules(ctx, appt.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder schedules: %w", err)
	}

	var candidates []models.ReminderInstance
	for _, sched := range schedules {
		insts, err := s.timing.Resolve(ctx, *appt, sched, pref, now)
		var cfgErr *ScheduleConfigError
		if errors.As(err, &cfgErr) {
			metrics.ScheduleConfigErrors.Inc()
			s.logger.Warn("reminder schedule misconfigured",
				zap.Uint("schedule_id", cfgErr.ScheduleID),
				zap.Strings("problems", cfgErr.Problems))
			result.ConfigErrors = append(result.ConfigErrors, cfgErr)
			continue
		}
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, insts...)
	}
	candidates = CollapseSameMinute(candidates)

	existing, err := stores.Instances.ListByAppointment(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing reminders: %w", err)
	}
	// A timing slot counts as taken whatever channel it was scheduled on, so a changed
	// channel preference does not add a second reminder for the same rule.
	taken := make(map[string]bool, len(existing))
	for _, inst := range existing {
		if inst.ParentID == nil && inst.State != models.StateCancelled {
			taken[inst.TimingSlotKey()] = true
		}
		taken[inst.DispatchKey()] = true
	}
	fresh := candidates[:0]
	for _, c := range candidates {
		if !taken[c.TimingSlotKey()] && !taken[c.DispatchKey()] {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return result, nil
	}

	from, _ := LocalDayBounds(fresh[0].ScheduledSendTime, pref.Location)
	_, to := LocalDayBounds(fresh[len(fresh)-1].ScheduledSendTime, pref.Location)
	patientInsts, err := stores.Instances.ListByPatient(ctx, appt.PatientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient reminders: %w", err)
	}

	decision := s.keeper.quota.Apply(pref, patientInsts, fresh, now)
	rows := append(append([]models.ReminderInstance(nil), decision.Accepted...), decision.Skipped...)
	inserted, err := stores.Instances.CreateInstances(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("failed to save reminders: %w", err)
	}
	if n := len(rows) - len(inserted); n > 0 {
		s.logger.Info("reminder slots already taken",
			zap.Uint("appointment_id", appt.ID),
			zap.Int("ignored", n))
	}

	for _, inst := range inserted {
		if inst.State == models.StateSkippedQuota {
			result.SkippedQuota = append(result.SkippedQuota, inst)
			continue
		}
		result.Created = append(result.Created, inst)
		metrics.RemindersScheduled.WithLabelValues(string(inst.Channel)).Inc()
	}
	if n := len(result.SkippedQuota); n > 0 {
		metrics.QuotaSkipped.Add(float64(n))
		s.logger.Info("reminders skipped by daily cap",
			zap.Uint("appointment_id", appt.ID),
			zap.Int("skipped", n))
	}
	return result, nil
}

// CancelResult reports what cancelling an appointment did to its reminders.
type CancelResult struct {
	Cancelled int `json:"cancelled"`
	InFlight  int `json:"in_flight"`
}

// CancelAppointment cancels the appointment's pending reminders under the patient lock.
// Instances already handed to a transport are left as they are.
func (s *ReminderService) CancelAppointment(ctx context.Context, appointmentID uint, now time.Time) (*CancelResult, error) {
	stores := s.keeper.stores

	appt, err := stores.Appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load appointment %d: %w", appointmentID, err)
	}
	if appt == nil {
		return nil, fmt.Errorf("%w: appointment %d", ErrNotFound, appointmentID)
	}

	unlock, err := s.locker.Lock(ctx, appt.PatientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := stores.Appointments.MarkAppointmentCancelled(ctx, appt.ID, now); err != nil {
		return nil, fmt.Errorf("failed to cancel appointment %d: %w", appt.ID, err)
	}
	cancelledAt := now
	appt.Status = models.AppointmentCancelled
	appt.CancelledAt = &cancelledAt

	insts, err := stores.Instances.ListByAppointment(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}

	pref := s.prefs.Resolve(ctx, appt.PatientID)
	res := &CancelResult{}
	for _, inst := range insts {
		switch {
		case inst.State == models.StatePending:
			if _, err := s.keeper.apply(ctx, inst, Event{Kind: EventCancel, At: now, Reason: "appointment cancelled"}, pref, appt); err != nil {
				return res, err
			}
			res.Cancelled++
		case inst.State.Awaiting():
			res.InFlight++
		}
	}
	s.logger.Info("appointment cancelled",
		zap.Uint("appointment_id", appt.ID),
		zap.Int("reminders_cancelled", res.Cancelled),
		zap.Int("reminders_in_flight", res.InFlight))
	return res, nil
}

// OptOut records the opt-out and cancels every open reminder of the patient.
func (s *ReminderService) OptOut(ctx context.Context, patientID string, now time.Time) (int, error) {
	stores := s.keeper.stores

	unlock, err := s.locker.Lock(ctx, patientID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := stores.Preferences.SetOptedOut(ctx, patientID, true); err != nil {
		return 0, fmt.Errorf("failed to record opt-out: %w", err)
	}
	open, err := stores.Instances.ListOpenByPatient(ctx, patientID)
	if err != nil {
		return 0, fmt.Errorf("failed to list open reminders: %w", err)
	}

	pref := s.prefs.Resolve(ctx, patientID)
	cancelled := 0
	for _, inst := range open {
		if _, err := s.keeper.apply(ctx, inst, Event{Kind: EventCancel, At: now, Reason: "patient opted out"}, pref, nil); err != nil {
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	s.logger.Info("patient opted out", zap.String("patient_id", patientID), zap.Int("reminders_cancelled", cancelled))
	return cancelled, nil
}

// HandleDeliveryReceipt applies a transport status callback. delivered and read move a
// sent instance to delivered; failed escalates. Stale receipts are ignored.
func (s *ReminderService) HandleDeliveryReceipt(ctx context.Context, externalID string, status models.LogStatus, at time.Time) error {
	stores := s.keeper.stores

	entry, err := stores.Logs.FindLogByExternalID(ctx, externalID)
	if err != nil {
		return fmt.Errorf("failed to find communication log: %w", err)
	}
	if entry == nil {
		return fmt.Errorf("%w: message %s", ErrNotFound, externalID)
	}

	unlock, err := s.locker.Lock(ctx, entry.PatientID)
	if err != nil {
		return err
	}
	defer unlock()

	var ev Event
	switch status {
	case models.LogDelivered, models.LogRead:
		if err := stores.Logs.MarkDelivered(ctx, entry.ID, status, at); err != nil {
			return fmt.Errorf("failed to record delivery: %w", err)
		}
		ev = Event{Kind: EventDelivered, At: at}
	case models.LogFailed:
		if err := stores.Logs.MarkFailed(ctx, entry.ID, "transport reported failure", at); err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}
		ev = Event{Kind: EventFailed, At: at, Reason: "transport reported failure"}
	default:
		return fmt.Errorf("unsupported delivery status %q", status)
	}

	inst, err := stores.Instances.GetInstance(ctx, entry.InstanceID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: reminder instance %s", ErrNotFound, entry.InstanceID)
	}

	_, err = s.keeper.apply(ctx, *inst, ev, s.prefs.Resolve(ctx, inst.PatientID), nil)
	if errors.Is(err, ErrInvalidTransition) {
		s.logger.Debug("ignoring stale delivery receipt",
			zap.String("external_id", externalID),
			zap.String("state", string(inst.State)),
			zap.String("status", string(status)))
		return nil
	}
	return err
}

// HandleInboundReply correlates a reply to the most recent awaiting reminder sent to the
// same address within the correlation window. It returns nil when nothing matches.
func (s *ReminderService) HandleInboundReply(ctx context.Context, channel models.Channel, address, payload, sentiment string, at time.Time) (*models.ReminderInstance, error) {
	stores := s.keeper.stores

	logs, err := stores.Logs.RecentLogsForRecipient(ctx, address, at.Add(-s.correlationWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to correlate reply: %w", err)
	}

	for _, entry := range logs {
		if channel != "" && !repliesOn(entry.Channel, channel) {
			continue
		}
		if entry.SentAt == nil || entry.SentAt.After(at) {
			continue
		}
		inst, err := s.replyTo(ctx, entry, payload, sentiment, at)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return inst, nil
		}
	}
	s.logger.Info("reply matched no awaiting reminder", zap.String("channel", string(channel)))
	return nil, nil
}

// repliesOn reports whether a reply arriving on got can answer a message sent on sent.
// Phone-based channels answer each other.
func repliesOn(sent, got models.Channel) bool {
	if sent == got {
		return true
	}
	phone := func(c models.Channel) bool {
		return c == models.ChannelSMS || c == models.ChannelVoice || c == models.ChannelWhatsApp
	}
	return phone(sent) && phone(got)
}

func (s *ReminderService) replyTo(ctx context.Context, entry models.CommunicationLog, payload, sentiment string, at time.Time) (*models.ReminderInstance, error) {
	stores := s.keeper.stores

	unlock, err := s.locker.Lock(ctx, entry.PatientID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	inst, err := stores.Instances.GetInstance(ctx, entry.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil || !inst.State.Awaiting() {
		return nil, nil
	}

	if err := stores.Logs.RecordResponse(ctx, entry.ID, payload, sentiment, at); err != nil {
		return nil, fmt.Errorf("failed to record response: %w", err)
	}
	tr, err := s.keeper.apply(ctx, *inst, Event{Kind: EventResponse, At: at}, s.prefs.Resolve(ctx, inst.PatientID), nil)
	if err != nil {
		return nil, err
	}
	return &tr.Instance, nil
}

// ReminderView is an instance with the latest status of its communication log.
type ReminderView struct {
	models.ReminderInstance
	LatestLogStatus models.LogStatus `json:"latest_log_status,omitempty"`
	LatestLogAt     *time.Time       `json:"latest_log_at,omitempty"`
}

func (s *ReminderService) ListAppointmentReminders(ctx context.Context, appointmentID uint) ([]ReminderView, error) {
	stores := s.keeper.stores

	insts, err := stores.Instances.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(insts))
	for i, inst := range insts {
		ids[i] = inst.ID
	}
	latest, err := stores.Logs.LatestLogs(ctx, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ReminderView, len(insts))
	for i, inst := range insts {
		views[i] = ReminderView{ReminderInstance: inst}
		if l, ok := latest[inst.ID]; ok {
			views[i].LatestLogStatus = l.Status
			ts := latestLogTime(l)
			views[i].LatestLogAt = &ts
		}
	}
	return views, nil
}

func latestLogTime(l models.CommunicationLog) time.Time {
	ts := l.QueuedAt
	for _, t := range []*time.Time{l.SentAt, l.DeliveredAt, l.ReadAt, l.RespondedAt} {
		if t != nil && t.After(ts) {
			ts = *t
		}
	}
	return ts
}
