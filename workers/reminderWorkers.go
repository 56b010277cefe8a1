package workers

import (
	"context"
	"time"

	"RoyRemind/services"

	"go.uber.org/zap"
)

type dispatchPass interface {
	RunPass(ctx context.Context, now time.Time) (services.PassResult, error)
}

type monitorPass interface {
	RunPass(ctx context.Context, now time.Time) (services.MonitorResult, error)
}

type engagementPass interface {
	Recompute(ctx context.Context, now time.Time) (int, error)
}

// DispatchWorker sends due reminders.
type DispatchWorker struct {
	dispatcher dispatchPass
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewDispatchWorker(dispatcher dispatchPass, interval time.Duration, logger *zap.Logger) *DispatchWorker {
	return &DispatchWorker{dispatcher: dispatcher, interval: interval, logger: logger, now: time.Now}
}

func (w *DispatchWorker) Name() string            { return "dispatch" }
func (w *DispatchWorker) Interval() time.Duration { return w.interval }

func (w *DispatchWorker) Run(ctx context.Context) error {
	res, err := w.dispatcher.RunPass(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	if res.Due > 0 {
		w.logger.Info("dispatch pass",
			zap.Int("due", res.Due),
			zap.Int("sent", res.Sent),
			zap.Int("rejected", res.Rejected),
			zap.Int("deferred", res.Deferred),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("skipped", res.Skipped),
			zap.Int("failed", res.Failed))
	}
	return nil
}

// EscalationWorker applies response timeouts.
type EscalationWorker struct {
	monitor  monitorPass
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewEscalationWorker(monitor monitorPass, interval time.Duration, logger *zap.Logger) *EscalationWorker {
	return &EscalationWorker{monitor: monitor, interval: interval, logger: logger, now: time.Now}
}

func (w *EscalationWorker) Name() string            { return "escalation" }
func (w *EscalationWorker) Interval() time.Duration { return w.interval }

func (w *EscalationWorker) Run(ctx context.Context) error {
	res, err := w.monitor.RunPass(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	if res.TimedOut > 0 || res.Failed > 0 {
		w.logger.Info("escalation pass",
			zap.Int("checked", res.Checked),
			zap.Int("timed_out", res.TimedOut),
			zap.Int("escalated", res.Escalated),
			zap.Int("exhausted", res.Exhausted),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("failed", res.Failed))
	}
	return nil
}

// EngagementWorker refreshes the engagement read-model.
type EngagementWorker struct {
	engagement engagementPass
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewEngagementWorker(engagement engagementPass, interval time.Duration, logger *zap.Logger) *EngagementWorker {
	return &EngagementWorker{engagement: engagement, interval: interval, logger: logger, now: time.Now}
}

func (w *EngagementWorker) Name() string            { return "engagement" }
func (w *EngagementWorker) Interval() time.Duration { return w.interval }

func (w *EngagementWorker) Run(ctx context.Context) error {
	n, err := w.engagement.Recompute(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	w.logger.Info("engagement scores recomputed", zap.Int("patients", n))
	return nil
}
