package review

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the review subsystem.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	TransitionDuration *prometheus.HistogramVec
	LockRetries        prometheus.Counter
	EventsPublished    *prometheus.CounterVec
	CreatesTotal       *prometheus.CounterVec
}

// NewMetrics registers and returns review metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_transitions_total",
			Help: "Total state transitions by entity type, transition, and outcome.",
		}, []string{"entity", "transition", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overwatch_transition_duration_seconds",
			Help:    "Duration of state transitions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		}, []string{"entity", "transition"}),
		LockRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwatch_lock_retries_total",
			Help: "Total retries while acquiring a per-entity transition lock.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_events_published_total",
			Help: "Total change events published to the broadcast hub by type.",
		}, []string{"type"}),
		CreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwatch_creates_total",
			Help: "Total entity creations by entity type.",
		}, []string{"entity"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.TransitionDuration,
		m.LockRetries,
		m.EventsPublished,
		m.CreatesTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnTransition: func(entityType, transition, outcome string, seconds float64) {
			m.TransitionsTotal.WithLabelValues(entityType, transition, outcome).Inc()
			m.TransitionDuration.WithLabelValues(entityType, transition).Observe(seconds)
		},
		OnLockRetry: func() {
			m.LockRetries.Inc()
		},
		OnEventPublished: func(eventType string) {
			m.EventsPublished.WithLabelValues(eventType).Inc()
		},
	}
}
