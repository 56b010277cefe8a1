package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RemindersScheduled counts instances created by scheduling, by channel.
	RemindersScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_scheduled_total",
			Help: "Total number of reminder instances created",
		},
		[]string{"channel"},
	)

	// RemindersSent counts send attempts, outcome: accepted, rejected.
	RemindersSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_sent_total",
			Help: "Total number of reminder send attempts",
		},
		[]string{"channel", "outcome"},
	)

	QuotaSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminders_skipped_quota_total",
			Help: "Total number of reminder instances skipped by the daily cap",
		},
	)

	Escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_escalations_total",
			Help: "Total number of escalations to a fallback channel",
		},
		[]string{"trigger", "channel"},
	)

	// Transitions counts instance state changes, by target state.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_transitions_total",
			Help: "Total number of reminder instance state transitions",
		},
		[]string{"state"},
	)

	ScheduleConfigErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_schedule_config_errors_total",
			Help: "Total number of schedules that failed resolution",
		},
	)

	ConcurrencyConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reminder_concurrency_conflicts_total",
			Help: "Total number of optimistic version conflicts on reminder instances",
		},
	)

	SendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_send_latency_seconds",
			Help:    "Outbound transport call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"channel"},
	)

	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_pass_duration_seconds",
			Help:    "Duration of periodic worker passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		},
		[]string{"worker"},
	)
)

func RecordSend(channel, outcome string, duration time.Duration) {
	RemindersSent.WithLabelValues(channel, outcome).Inc()
	SendLatency.WithLabelValues(channel).Observe(duration.Seconds())
}

func RecordEscalation(trigger, channel string) {
	Escalations.WithLabelValues(trigger, channel).Inc()
}

func RecordTransition(state string) {
	Transitions.WithLabelValues(state).Inc()
}

func RecordPass(worker string, duration time.Duration) {
	PassDuration.WithLabelValues(worker).Observe(duration.Seconds())
}
