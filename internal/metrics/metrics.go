// Package metrics exposes the prometheus instruments for the task
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	TasksSubmitted prometheus.Counter
	UnitsTotal     *prometheus.CounterVec
	UnitDuration   *prometheus.HistogramVec
	Registry       *prometheus.Registry
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		TasksSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geowatch",
			Name:      "tasks_submitted_total",
			Help:      "Monitoring tasks accepted for execution.",
		}),
		UnitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geowatch",
			Name:      "units_total",
			Help:      "Search units executed, by platform and outcome.",
		}, []string{"platform", "status"}),
		UnitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geowatch",
			Name:      "unit_duration_seconds",
			Help:      "Wall time of one platform search session.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"platform"}),
		Registry: registry,
	}
	registry.MustRegister(m.TasksSubmitted, m.UnitsTotal, m.UnitDuration)
	return m
}

// ObserveUnit records one finished search unit.
func (m *Metrics) ObserveUnit(platform string, ok bool, d time.Duration) {
	status := "completed"
	if !ok {
		status = "failed"
	}
	m.UnitsTotal.WithLabelValues(platform, status).Inc()
	m.UnitDuration.WithLabelValues(platform).Observe(d.Seconds())
}
