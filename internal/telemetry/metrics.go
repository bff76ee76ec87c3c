package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// EventsProcessed counts scan events accepted by the engine
	EventsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flocksense",
			Name:      "events_processed_total",
			Help:      "Total number of scan events processed by the engine",
		},
		[]string{"protocol"},
	)

	// EventsSkipped counts malformed or stale events dropped with a diagnostic
	EventsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flocksense",
			Name:      "events_skipped_total",
			Help:      "Total number of scan events skipped",
		},
		[]string{"protocol", "reason"},
	)

	// AnomaliesEmitted counts anomaly records emitted by heuristics
	AnomaliesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flocksense",
			Name:      "anomalies_emitted_total",
			Help:      "Total number of anomaly records emitted",
		},
		[]string{"protocol", "type"},
	)

	// ActiveDetections tracks currently active detections per level
	ActiveDetections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flocksense",
			Name:      "active_detections",
			Help:      "Number of currently active detections",
		},
		[]string{"level"},
	)

	// LevelTransitions counts threat level transitions
	LevelTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flocksense",
			Name:      "level_transitions_total",
			Help:      "Total number of threat level transitions",
		},
		[]string{"from", "to"},
	)

	// ReanalysisFailures counts per-item re-analysis failures
	ReanalysisFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flocksense",
			Name:      "reanalysis_failures_total",
			Help:      "Total number of failed re-analysis items",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry.
// This function is idempotent and can be called multiple times safely.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(EventsProcessed)
		prometheus.DefaultRegisterer.Register(EventsSkipped)
		prometheus.DefaultRegisterer.Register(AnomaliesEmitted)
		prometheus.DefaultRegisterer.Register(ActiveDetections)
		prometheus.DefaultRegisterer.Register(LevelTransitions)
		prometheus.DefaultRegisterer.Register(ReanalysisFailures)
	})
}
