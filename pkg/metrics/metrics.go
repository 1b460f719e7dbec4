// Package metrics provides Prometheus metrics for healthchat.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsCommitted counts transcript turns by role.
	TurnsCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthchat",
			Name:      "turns_committed_total",
			Help:      "Total number of transcript turns committed",
		},
		[]string{"role"},
	)

	// GenerationFailures counts streams that ended in an error turn.
	GenerationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthchat",
			Name:      "generation_failures_total",
			Help:      "Total number of generation streams that failed",
		},
	)

	// FragmentsReceived counts non-empty streamed fragments.
	FragmentsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "healthchat",
			Name:      "fragments_received_total",
			Help:      "Total number of non-empty answer fragments received",
		},
	)

	// StreamDuration measures a generation stream from start to commit.
	StreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "healthchat",
			Name:      "stream_duration_seconds",
			Help:      "Duration of generation streams in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"status"},
	)

	// LiveConversations tracks conversations held in memory by the web server.
	LiveConversations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "healthchat",
			Name:      "live_conversations",
			Help:      "Number of conversations currently held in memory",
		},
	)

	// ChatRequests counts POST /chat outcomes.
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "healthchat",
			Name:      "chat_requests_total",
			Help:      "Total number of chat submissions by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordStream records the end of a generation stream.
func RecordStream(status string, seconds float64) {
	StreamDuration.WithLabelValues(status).Observe(seconds)
	if status == "failed" {
		GenerationFailures.Inc()
	}
}

// RecordTurn records a committed transcript turn.
func RecordTurn(role string) {
	TurnsCommitted.WithLabelValues(role).Inc()
}
