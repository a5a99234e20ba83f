// Package metrics exposes the Prometheus collectors for the incident
// manager runtime. The metric set is fixed and enumerable, registered once
// at process startup.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "incident_manager"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	incidentsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "incidents_submitted_total",
			Help:      "Total alerts submitted, split by whether they opened a new incident or merged into an existing one.",
		},
		[]string{"outcome"}, // "created" | "deduplicated"
	)

	incidentsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "incidents_by_state",
			Help:      "Current count of incidents in each lifecycle state.",
		},
		[]string{"state"},
	)

	routingEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "evaluations_total",
			Help:      "Total routing rule evaluations, split by whether any rule matched.",
		},
		[]string{"matched"},
	)

	escalationExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "level_executions_total",
			Help:      "Total escalation level executions, split by outcome.",
		},
		[]string{"outcome"}, // "ok" | "partial" | "failed"
	)

	escalationMonitorTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "monitor_ticks_total",
			Help:      "Total monitor loop ticks processed.",
		},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"breaker"},
	)

	circuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "transitions_total",
			Help:      "Total circuit breaker state transitions.",
		},
		[]string{"breaker", "from", "to"},
	)

	circuitBreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "rejections_total",
			Help:      "Total calls rejected by a breaker (open or half-open probe limit).",
		},
		[]string{"breaker", "reason"},
	)

	broadcasterSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "active_sessions",
			Help:      "Current number of connected broadcaster sessions.",
		},
	)

	broadcasterDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "sessions_dropped_total",
			Help:      "Total sessions disconnected due to a full outbound queue or reaping, plus events dropped at a full fanout channel.",
		},
		[]string{"reason"}, // "backpressure" | "reaped" | "fanout_full"
	)

	broadcasterEventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcaster",
			Name:      "events_published_total",
			Help:      "Total events published, split by event type.",
		},
		[]string{"event_type"},
	)

	storageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "operation_duration_seconds",
			Help:      "Duration of store operations by backend and operation name.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend", "operation", "status"},
	)
)

func init() {
	Registry.MustRegister(
		incidentsSubmitted,
		incidentsByState,
		routingEvaluations,
		escalationExecutions,
		escalationMonitorTicks,
		circuitBreakerState,
		circuitBreakerTransitions,
		circuitBreakerRejections,
		broadcasterSessions,
		broadcasterDropped,
		broadcasterEventsPublished,
		storageOperationDuration,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered collectors. The
// runtime's own HTTP transport is out of scope, but callers embedding this
// package in a server can mount it directly.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordIncidentSubmitted records whether submitting an alert created a new
// incident or deduplicated into an existing one.
func RecordIncidentSubmitted(deduplicated bool) {
	outcome := "created"
	if deduplicated {
		outcome = "deduplicated"
	}
	incidentsSubmitted.WithLabelValues(outcome).Inc()
}

// SetIncidentsByState replaces the incidents-by-state gauge with a fresh
// snapshot, keyed by lifecycle state name.
func SetIncidentsByState(counts map[string]int) {
	incidentsByState.Reset()
	for state, n := range counts {
		incidentsByState.WithLabelValues(state).Set(float64(n))
	}
}

// RecordRoutingEvaluation records whether a routing evaluation matched at
// least one rule.
func RecordRoutingEvaluation(matched bool) {
	label := "false"
	if matched {
		label = "true"
	}
	routingEvaluations.WithLabelValues(label).Inc()
}

// RecordEscalationExecution records the outcome of a single escalation
// level execution.
func RecordEscalationExecution(outcome string) {
	escalationExecutions.WithLabelValues(outcome).Inc()
}

// RecordMonitorTick increments the escalation monitor's tick counter.
func RecordMonitorTick() {
	escalationMonitorTicks.Inc()
}

// RecordCircuitBreakerTransition records a state change and refreshes the
// gauge for that breaker.
func RecordCircuitBreakerTransition(breaker, from, to string, stateValue float64) {
	circuitBreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	circuitBreakerState.WithLabelValues(breaker).Set(stateValue)
}

// RecordCircuitBreakerRejection records a call rejected by a breaker.
func RecordCircuitBreakerRejection(breaker, reason string) {
	circuitBreakerRejections.WithLabelValues(breaker, reason).Inc()
}

// SetBroadcasterSessions sets the current connected-session gauge.
func SetBroadcasterSessions(n int) {
	broadcasterSessions.Set(float64(n))
}

// RecordBroadcasterDropped records a session disconnected for the given
// reason ("backpressure" or "reaped"), or an event dropped because the
// fanout channel was full ("fanout_full").
func RecordBroadcasterDropped(reason string) {
	broadcasterDropped.WithLabelValues(reason).Inc()
}

// RecordBroadcasterEventPublished records one event publish by event type.
func RecordBroadcasterEventPublished(eventType string) {
	broadcasterEventsPublished.WithLabelValues(eventType).Inc()
}

// RecordStorageOperation records the duration and outcome of a store call.
func RecordStorageOperation(backend, operation, status string, seconds float64) {
	storageOperationDuration.WithLabelValues(backend, operation, status).Observe(seconds)
}
