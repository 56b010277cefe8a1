package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RoyRemind/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MonitorResult summarizes one escalation pass.
type MonitorResult struct {
	Checked   int
	TimedOut  int
	Escalated int
	Exhausted int
	Cancelled int
	Failed    int
}

// EscalationMonitor applies timeout events to sent and delivered instances whose
// escalation deadline has passed. Candidates come from the stored deadline_at, earliest
// first, so a batch never fills up with instances that are not due yet.
type EscalationMonitor struct {
	keeper      *chainKeeper
	prefs       *PreferenceResolver
	locker      PatientLocker
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

func NewEscalationMonitor(stores Stores, prefs *PreferenceResolver, locker PatientLocker, cfg DispatcherConfig, logger *zap.Logger) *EscalationMonitor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &EscalationMonitor{
		keeper: &chainKeeper{
			stores:                stores,
			engine:                NewEscalationEngine(),
			defaultResponseWindow: cfg.DefaultResponseWindow,
			logger:                logger,
		},
		prefs:       prefs,
		locker:      locker,
		batchSize:   cfg.BatchSize,
		concurrency: cfg.Concurrency,
		logger:      logger,
	}
}

func (m *EscalationMonitor) RunPass(ctx context.Context, now time.Time) (MonitorResult, error) {
	timedOut, err := m.keeper.stores.Instances.ListTimedOut(ctx, now, m.batchSize)
	if err != nil {
		return MonitorResult{}, fmt.Errorf("failed to list timed out reminders: %w", err)
	}

	batches := groupByPatient(timedOut)
	results := make([]MonitorResult, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = m.checkPatient(gctx, batch, now)
			return nil
		})
	}
	_ = g.Wait()

	var total MonitorResult
	for _, r := range results {
		total.Checked += r.Checked
		total.TimedOut += r.TimedOut
		total.Escalated += r.Escalated
		total.Exhausted += r.Exhausted
		total.Cancelled += r.Cancelled
		total.Failed += r.Failed
	}
	if total.TimedOut > 0 {
		m.logger.Info("escalation pass finished",
			zap.Int("checked", total.Checked),
			zap.Int("timed_out", total.TimedOut),
			zap.Int("escalated", total.Escalated),
			zap.Int("exhausted", total.Exhausted),
			zap.Int("cancelled", total.Cancelled))
	}
	return total, ctx.Err()
}

func (m *EscalationMonitor) checkPatient(ctx context.Context, batch patientBatch, now time.Time) MonitorResult {
	res := MonitorResult{Checked: len(batch.instances)}

	unlock, err := m.locker.Lock(ctx, batch.patientID)
	if err != nil {
		m.logger.Info("patient busy, checking timeouts next pass", zap.String("patient_id", batch.patientID), zap.Error(err))
		return res
	}
	defer unlock()

	pref := m.prefs.Resolve(ctx, batch.patientID)
	for _, listed := range batch.instances {
		inst, err := m.keeper.stores.Instances.GetInstance(ctx, listed.ID)
		if err != nil {
			res.Failed++
			continue
		}
		if inst == nil || !inst.State.Awaiting() {
			continue
		}

		ec, err := m.keeper.contextFor(ctx, *inst, pref, nil)
		if err != nil {
			m.logger.Error("failed to build escalation context", zap.String("instance_id", inst.ID), zap.Error(err))
			res.Failed++
			continue
		}
		// The stored deadline may predate a schedule change; the rules decide.
		deadline := m.keeper.engine.NextDeadline(*inst, ec)
		if now.Before(deadline) {
			m.resetDeadline(ctx, *inst, deadline)
			continue
		}

		tr, err := m.keeper.apply(ctx, *inst, Event{Kind: EventTimeout, At: deadline}, pref, nil)
		if err != nil {
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrNotDue) {
				res.Failed++
			}
			continue
		}
		res.TimedOut++
		switch tr.To() {
		case models.StateEscalated:
			res.Escalated++
		case models.StateExhausted:
			res.Exhausted++
		case models.StateCancelled:
			res.Cancelled++
		}
	}
	return res
}

// resetDeadline stores a recomputed deadline that moved past now so the instance leaves
// the timed out listing until it is due.
func (m *EscalationMonitor) resetDeadline(ctx context.Context, inst models.ReminderInstance, deadline time.Time) {
	inst.DeadlineAt = &deadline
	if _, err := m.keeper.stores.Instances.UpdateInstance(ctx, &inst, nil); err != nil && !errors.Is(err, ErrConcurrencyConflict) {
		m.logger.Warn("failed to reset escalation deadline", zap.String("instance_id", inst.ID), zap.Error(err))
	}
}
