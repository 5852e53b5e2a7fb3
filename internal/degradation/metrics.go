package degradation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// degradationEventsTotal tracks degradation events
	degradationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_degradation_events_total",
			Help: "Total number of degradation events by level and reason",
		},
		[]string{"level", "reason"},
	)

	// currentDegradationLevel tracks current system degradation level
	currentDegradationLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memex_degradation_level",
			Help: "Current system degradation level (0=none, 1=minor, 2=moderate, 3=severe)",
		},
	)

	// dependencyHealthStatus tracks individual dependency health
	dependencyHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memex_dependency_health",
			Help: "Dependency health status (1=healthy, 0=unhealthy)",
		},
		[]string{"dependency", "type"},
	)

	// fallbackBehaviorExecuted tracks when fallback behaviors are triggered
	fallbackBehaviorExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_fallback_behavior_total",
			Help: "Total number of fallback behaviors executed by operation and behavior type",
		},
		[]string{"operation", "behavior"},
	)
)

// RecordDependencyHealth updates dependency health metrics
func RecordDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealthStatus.WithLabelValues(dependency, "overall").Set(value)
}

// RecordFallbackBehavior records when a fallback behavior is executed
func RecordFallbackBehavior(operation string, behavior FallbackBehavior) {
	fallbackBehaviorExecuted.WithLabelValues(operation, behavior.String()).Inc()
}
