package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Dwell-time buckets span minutes to days; SLA maxima sit in the hour range.
var dwellSecondsBuckets = []float64{60, 600, 3600, 4 * 3600, 12 * 3600, 24 * 3600, 48 * 3600, 72 * 3600, 7 * 24 * 3600}

var transitionDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// Metrics holds all Prometheus metric instruments for the workflow engine.
type Metrics struct {
	// Workflow metrics
	WorkflowsCreatedTotal prometheus.Counter
	TransitionsTotal      *prometheus.CounterVec
	TransitionDuration    prometheus.Histogram
	StateDwellSeconds     *prometheus.HistogramVec
	SLABreachesTotal      *prometheus.CounterVec

	// Resilience metrics
	BreakerState            prometheus.Gauge
	PersistenceRetriesTotal prometheus.Counter

	// Notification metrics
	NotificationBatchesTotal  *prometheus.CounterVec
	NotificationsDroppedTotal prometheus.Counter
}

// NewMetrics creates and registers all metric instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_created_total",
			Help: "Number of workflow instances created.",
		}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_transitions_total",
			Help: "Number of transition attempts by source state, target state and outcome.",
		}, []string{"from", "to", "outcome"}),
		TransitionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "workflow_transition_duration_seconds",
			Help:    "End-to-end duration of transition execution.",
			Buckets: transitionDurationBuckets,
		}),
		StateDwellSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "workflow_state_dwell_seconds",
			Help:    "Time instances spent in a state before vacating it.",
			Buckets: dwellSecondsBuckets,
		}, []string{"state"}),
		SLABreachesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_sla_breaches_total",
			Help: "Number of dwell-time SLA breaches detected by the sweep, by state.",
		}, []string{"state"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflow_circuit_breaker_state",
			Help: "Circuit breaker state of the transition executor (0=closed, 1=open, 2=half-open).",
		}),
		PersistenceRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_persistence_retries_total",
			Help: "Number of retried persistence attempts after transient failures.",
		}),
		NotificationBatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "workflow_notification_batches_total",
			Help: "Number of notification batches dispatched, by outcome.",
		}, []string{"outcome"}),
		NotificationsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_notifications_dropped_total",
			Help: "Number of notifications dropped because the dispatch queue was full.",
		}),
	}

	reg.MustRegister(
		m.WorkflowsCreatedTotal,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.StateDwellSeconds,
		m.SLABreachesTotal,
		m.BreakerState,
		m.PersistenceRetriesTotal,
		m.NotificationBatchesTotal,
		m.NotificationsDroppedTotal,
	)

	return m
}
