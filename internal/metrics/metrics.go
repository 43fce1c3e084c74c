package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesSent counts messages that left the engine successfully.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_messages_sent_total",
		Help: "Messages sent successfully by the dispatch loop",
	})

	// MessagesFailed counts per-recipient send failures.
	MessagesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campaign_messages_failed_total",
		Help: "Messages that failed in the dispatch loop",
	})

	// RunsStarted counts dispatch loops by triggering action.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campaign_runs_started_total",
		Help: "Dispatch loops started, by triggering action",
	}, []string{"action"})

	// ActiveRuns tracks dispatch loops currently in flight.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campaign_active_runs",
		Help: "Dispatch loops currently running",
	})
)

// RecordRunStarted records a loop launch for the given triggering action.
func RecordRunStarted(action string) {
	RunsStarted.WithLabelValues(action).Inc()
}
