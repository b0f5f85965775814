package reconcile

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the reconcile counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	RecordsTotal    *prometheus.CounterVec
	LockWaitSeconds *prometheus.HistogramVec
}

// NewMetrics registers the reconcile metrics on reg under namespace.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "runs_total",
				Help:      "Reconcile runs by entity and outcome",
			},
			[]string{"entity", "outcome"},
		),
		RunDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "run_duration_seconds",
				Help:      "Time spent inside the atomic reconcile unit",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"entity"},
		),
		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "records_total",
				Help:      "Records written or removed by reconcile runs",
			},
			[]string{"entity", "action"},
		),
		LockWaitSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "reconcile",
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting for entity write locks",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"entity"},
		),
	}
}

func (m *Metrics) observeLockWait(entity EntityType, d time.Duration) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.WithLabelValues(string(entity)).Observe(d.Seconds())
}

func (m *Metrics) observeFailure(entity EntityType) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(entity), "error").Inc()
}

func (m *Metrics) observeSuccess(entity EntityType, inserted, updated, deleted int, cascaded map[EntityType]int, d time.Duration) {
	if m == nil {
		return
	}
	e := string(entity)
	m.RunsTotal.WithLabelValues(e, "ok").Inc()
	m.RunDuration.WithLabelValues(e).Observe(d.Seconds())
	m.RecordsTotal.WithLabelValues(e, "inserted").Add(float64(inserted))
	m.RecordsTotal.WithLabelValues(e, "updated").Add(float64(updated))
	m.RecordsTotal.WithLabelValues(e, "deleted").Add(float64(deleted))
	for child, n := range cascaded {
		m.RecordsTotal.WithLabelValues(string(child), "cascaded").Add(float64(n))
	}
}
