package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions tracks the number of active relay sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mitm_active_sessions",
		Help: "The total number of active relay sessions.",
	})

	// FramesRelayed counts the total number of frames relayed, labeled by OCPP version and direction.
	FramesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mitm_frames_relayed_total",
		Help: "Total number of frames relayed between charge points and the upstream CSMS.",
	}, []string{"ocpp_version", "direction"})

	// ManipulationsTotal counts the total number of manipulated charging profiles, labeled by strategy.
	ManipulationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mitm_manipulations_total",
		Help: "Total number of charging profiles manipulated in transit.",
	}, []string{"strategy"})

	// ManipulationFailures counts frames that could not be manipulated and were forwarded unchanged.
	ManipulationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mitm_manipulation_failures_total",
		Help: "Total number of manipulation attempts that failed and fell back to pass-through.",
	})

	// AcknowledgementsMatched counts manipulated calls whose responses were correlated on the return path.
	AcknowledgementsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mitm_acknowledgements_matched_total",
		Help: "Total number of manipulated calls matched with their call results.",
	}, []string{"status"})

	// EventsPublished counts the total number of events published to Kafka, labeled by event type.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mitm_events_published_total",
		Help: "Total number of events published to the message broker.",
	}, []string{"event_type"})

	// InterceptDuration observes the time spent inspecting and rewriting a frame, labeled by outcome.
	InterceptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mitm_intercept_duration_seconds",
		Help:    "Histogram of per-frame intercept times.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms .. ~0.4s
	}, []string{"outcome"})
)

// RegisterMetrics registers all the defined Prometheus metrics.
// In this implementation, we use promauto which automatically registers the metrics.
// This function is kept for conceptual clarity and potential future use if we stop using promauto.
func RegisterMetrics() {
	// With promauto, registration is automatic.
	// This function is conceptually a placeholder.
}
