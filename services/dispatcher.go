package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RoyRemind/metrics"
	"RoyRemind/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type DispatcherConfig struct {
	BatchSize             int
	Concurrency           int
	SendTimeout           time.Duration
	DefaultResponseWindow time.Duration
}

// PassResult summarizes one dispatch pass.
type PassResult struct {
	Due       int
	Sent      int
	Rejected  int
	Cancelled int
	Deferred  int
	Skipped   int
	Failed    int
}

type passCounter struct {
	mu  sync.Mutex
	res PassResult
}

func (c *passCounter) add(f func(r *PassResult)) {
	c.mu.Lock()
	f(&c.res)
	c.mu.Unlock()
}

// Dispatcher sends due reminder instances through the NotificationSender.
type Dispatcher struct {
	keeper   *chainKeeper
	prefs    *PreferenceResolver
	renderer TemplateRenderer
	sender   NotificationSender
	locker   PatientLocker
	claimer  SendClaimer
	cfg      DispatcherConfig
	logger   *zap.Logger
}

func NewDispatcher(stores Stores, prefs *PreferenceResolver, renderer TemplateRenderer, sender NotificationSender,
	locker PatientLocker, claimer SendClaimer, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		keeper: &chainKeeper{
			stores:                stores,
			engine:                NewEscalationEngine(),
			defaultResponseWindow: cfg.DefaultResponseWindow,
			logger:                logger,
		},
		prefs:    prefs,
		renderer: renderer,
		sender:   sender,
		locker:   locker,
		claimer:  claimer,
		cfg:      cfg,
		logger:   logger,
	}
}

// RunPass sends every instance due at now. Patients are processed concurrently, each
// under its own lock and in send-time order. A failing instance never aborts the pass.
func (d *Dispatcher) RunPass(ctx context.Context, now time.Time) (PassResult, error) {
	due, err := d.keeper.stores.Instances.ListDue(ctx, now, d.cfg.BatchSize)
	if err != nil {
		return PassResult{}, fmt.Errorf("failed to list due reminders: %w", err)
	}
	counter := &passCounter{res: PassResult{Due: len(due)}}
	if len(due) == 0 {
		return counter.res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, batch := range groupByPatient(due) {
		g.Go(func() error {
			d.dispatchPatient(gctx, batch, now, counter)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("dispatch pass finished",
		zap.Int("due", counter.res.Due),
		zap.Int("sent", counter.res.Sent),
		zap.Int("rejected", counter.res.Rejected),
		zap.Int("cancelled", counter.res.Cancelled),
		zap.Int("deferred", counter.res.Deferred),
		zap.Int("skipped", counter.res.Skipped),
		zap.Int("failed", counter.res.Failed))
	return counter.res, ctx.Err()
}

type patientBatch struct {
	patientID string
	instances []models.ReminderInstance
}

// groupByPatient keeps the store's ordering inside each patient.
func groupByPatient(insts []models.ReminderInstance) []patientBatch {
	index := make(map[string]int)
	var out []patientBatch
	for _, inst := range insts {
		i, ok := index[inst.PatientID]
		if !ok {
			i = len(out)
			index[inst.PatientID] = i
			out = append(out, patientBatch{patientID: inst.PatientID})
		}
		out[i].instances = append(out[i].instances, inst)
	}
	return out
}

func (d *Dispatcher) dispatchPatient(ctx context.Context, batch patientBatch, now time.Time, counter *passCounter) {
	log := d.logger.With(zap.String("patient_id", batch.patientID))

	unlock, err := d.locker.Lock(ctx, batch.patientID)
	if err != nil {
		log.Info("patient busy, leaving reminders for the next pass", zap.Error(err))
		counter.add(func(r *PassResult) { r.Skipped += len(batch.instances) })
		return
	}
	defer unlock()

	pref := d.prefs.Resolve(ctx, batch.patientID)
	for _, inst := range batch.instances {
		if ctx.Err() != nil {
			return
		}
		outcome, err := d.dispatchOne(ctx, inst, pref, now)
		if err != nil {
			log.Error("failed to dispatch reminder", zap.String("instance_id", inst.ID), zap.Error(err))
			counter.add(func(r *PassResult) { r.Failed++ })
			continue
		}
		counter.add(func(r *PassResult) { outcome.count(r) })
	}
}

type dispatchOutcome int

const (
	outcomeSkipped dispatchOutcome = iota
	outcomeSent
	outcomeRejected
	outcomeCancelled
	outcomeDeferred
)

func (o dispatchOutcome) count(r *PassResult) {
	switch o {
	case outcomeSent:
		r.Sent++
	case outcomeRejected:
		r.Rejected++
	case outcomeCancelled:
		r.Cancelled++
	case outcomeDeferred:
		r.Deferred++
	default:
		r.Skipped++
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, listed models.ReminderInstance, pref models.EffectivePreference, now time.Time) (dispatchOutcome, error) {
	stores := d.keeper.stores

	// Re-read under the lock: a crash replay or a concurrent cancel may have moved it.
	inst, err := stores.Instances.GetInstance(ctx, listed.ID)
	if err != nil {
		return outcomeSkipped, err
	}
	if inst == nil || inst.State != models.StatePending {
		return outcomeSkipped, nil
	}

	appt, err := stores.Appointments.GetAppointment(ctx, inst.AppointmentID)
	if err != nil {
		return outcomeSkipped, err
	}
	if appt == nil || appt.IsCancelled() {
		_, err := d.keeper.apply(ctx, *inst, Event{Kind: EventCancel, At: now, Reason: "appointment cancelled"}, pref, appt)
		return outcomeCancelled, err
	}
	if pref.OptedOut {
		_, err := d.keeper.apply(ctx, *inst, Event{Kind: EventCancel, At: now, Reason: "patient opted out"}, pref, appt)
		return outcomeCancelled, err
	}

	// Preferences may have changed since the instance was scheduled.
	if !pref.DND.IsEmpty() && pref.DND.ContainsInstant(now, pref.Location) {
		return d.deferOutOfDND(ctx, *inst, pref, appt, now)
	}

	from, to := LocalDayBounds(now, pref.Location)
	today, err := stores.Instances.ListByPatient(ctx, inst.PatientID, from, to)
	if err != nil {
		return outcomeSkipped, err
	}
	if pref.MaxPerDay > 0 && d.keeper.quota.SentOnDay(pref, today, now) >= pref.MaxPerDay {
		_, err := d.keeper.apply(ctx, *inst, Event{Kind: EventSkipQuota, At: now}, pref, appt)
		if err == nil {
			metrics.QuotaSkipped.Inc()
		}
		return outcomeSkipped, err
	}

	claimed, err := d.claimer.Claim(ctx, inst.DispatchKey())
	if err != nil {
		return outcomeSkipped, err
	}
	if !claimed {
		return outcomeSkipped, nil
	}

	entry, sendErr := d.send(ctx, *inst, appt, pref, now)

	// The log row lands before the state change is saved.
	if err := stores.Logs.AppendLog(ctx, entry); err != nil {
		return outcomeSkipped, fmt.Errorf("failed to append communication log: %w", err)
	}

	ev := Event{Kind: EventSent, At: now}
	outcome := outcomeSent
	if sendErr != nil {
		ev = Event{Kind: EventSendRejected, At: now, Reason: sendErr.Error()}
		outcome = outcomeRejected
		d.logger.Warn("reminder send rejected",
			zap.String("instance_id", inst.ID),
			zap.String("channel", string(inst.Channel)),
			zap.Error(sendErr))
	}
	if _, err := d.keeper.apply(ctx, *inst, ev, pref, appt); err != nil {
		return outcomeSkipped, err
	}
	return outcome, nil
}

// deferOutOfDND moves a pending instance to the end of the patient's quiet hours, or
// cancels it when that would be too late for the appointment.
func (d *Dispatcher) deferOutOfDND(ctx context.Context, inst models.ReminderInstance, pref models.EffectivePreference, appt *models.Appointment, now time.Time) (dispatchOutcome, error) {
	next, ok := NextAllowed(now.Truncate(time.Minute), pref)
	if !ok || !next.Before(appt.StartTime) {
		_, err := d.keeper.apply(ctx, inst, Event{Kind: EventCancel, At: now, Reason: "do-not-disturb until appointment"}, pref, appt)
		return outcomeCancelled, err
	}
	inst.ScheduledSendTime = next.UTC()
	inst.LastOutcome = "deferred out of do-not-disturb"
	if _, err := d.keeper.stores.Instances.UpdateInstance(ctx, &inst, nil); err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			return outcomeSkipped, nil
		}
		return outcomeSkipped, err
	}
	return outcomeDeferred, nil
}

// send renders and hands the message to the transport. It always returns the log row
// describing the attempt; the error is non-nil when the attempt counts as rejected.
func (d *Dispatcher) send(ctx context.Context, inst models.ReminderInstance, appt *models.Appointment, pref models.EffectivePreference, now time.Time) (*models.CommunicationLog, error) {
	entry := &models.CommunicationLog{
		ID:            uuid.New().String(),
		InstanceID:    inst.ID,
		AppointmentID: inst.AppointmentID,
		PatientID:     inst.PatientID,
		Channel:       inst.Channel,
		AttemptCount:  inst.AttemptCount,
		Status:        models.LogQueued,
		QueuedAt:      now,
	}
	reject := func(reason string) (*models.CommunicationLog, error) {
		entry.Status = models.LogFailed
		entry.Error = reason
		return entry, &SendRejectedError{Channel: inst.Channel, Reason: reason}
	}

	patient, err := d.keeper.stores.Patients.GetPatient(ctx, inst.PatientID)
	if err != nil {
		return reject("patient lookup failed: " + err.Error())
	}
	if patient == nil {
		return reject("patient not found")
	}
	address := patient.AddressFor(inst.Channel)
	entry.Recipient = address
	if address == "" {
		// The cached contact row may be stale; the fallback attempt reads it fresh.
		d.keeper.stores.Patients.EvictPatient(ctx, inst.PatientID)
		return reject("no address for channel " + string(inst.Channel))
	}

	msg, err := d.renderer.Render(ctx, inst.TemplateID, messageVars(*patient, *appt, inst, pref))
	if err != nil {
		return reject(err.Error())
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	result, err := d.sender.Send(sendCtx, inst.Channel, RecipientInfo{
		PatientID: patient.ID,
		Name:      patient.FullName(),
		Address:   address,
	}, msg)
	elapsed := time.Since(start)

	switch {
	case err != nil:
		metrics.RecordSend(string(inst.Channel), "rejected", elapsed)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return reject("transport timed out")
		}
		return reject(err.Error())
	case !result.Accepted:
		metrics.RecordSend(string(inst.Channel), "rejected", elapsed)
		entry.ExternalID = result.ExternalID
		return reject(orDefault(result.Error, "declined by transport"))
	}

	metrics.RecordSend(string(inst.Channel), "accepted", elapsed)
	sent := now
	entry.Status = models.LogSent
	entry.SentAt = &sent
	entry.ExternalID = result.ExternalID
	entry.Cost = result.Cost
	return entry, nil
}

func messageVars(patient models.Patient, appt models.Appointment, inst models.ReminderInstance, pref models.EffectivePreference) map[string]string {
	return map[string]string{
		"patient_name":     patient.FullName(),
		"appointment_time": appt.StartTime.In(pref.Location).Format("Mon Jan 2 2006 15:04 MST"),
		"appointment_type": appt.Type,
		"channel":          string(inst.Channel),
	}
}
