package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RemindersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_processed_total",
			Help: "Appointments handled by the reminder job, by horizon and outcome",
		},
		[]string{"horizon", "outcome"},
	)

	PushTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_tokens_total",
			Help: "Per-token multicast results",
		},
		[]string{"result"},
	)

	PushTokensRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_removed_total",
			Help: "Tokens removed from client profiles after a permanent failure",
		},
	)

	PushSendErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_send_errors_total",
			Help: "Multicast requests that failed as a whole",
		},
	)

	ReminderRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_run_duration_seconds",
			Help:    "Wall time of one reminder job run",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
)
