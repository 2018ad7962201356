// Package metrics provides Prometheus instrumentation of update cycles.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dockwarden"

// Metrics holds the collectors of the updater
type Metrics struct {
	CyclesTotal         prometheus.Counter
	CycleDuration       prometheus.Histogram
	MonitoredContainers prometheus.Gauge
	UpdatesTotal        *prometheus.CounterVec
	ChecksTotal         *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	LastCycle           prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of completed update cycles.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of update cycles.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		MonitoredContainers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitored_containers",
			Help:      "Number of eligible containers in the last inventory.",
		}),
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Recreations by outcome.",
		}, []string{"result"}),
		ChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_checks_total",
			Help:      "Image freshness checks by outcome.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Update notifications by outcome.",
		}, []string{"result"}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time of the last completed cycle.",
		}),
		gatherer: reg,
	}

	collectors := []prometheus.Collector{
		m.CyclesTotal,
		m.CycleDuration,
		m.MonitoredContainers,
		m.UpdatesTotal,
		m.ChecksTotal,
		m.Notifications,
		m.LastCycle,
	}
	var errs []error
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCycle records a finished cycle
func (m *Metrics) RecordCycle(duration time.Duration, containers int, finished time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(duration.Seconds())
	m.MonitoredContainers.Set(float64(containers))
	m.LastCycle.Set(float64(finished.Unix()))
}

// RecordCheck counts one image check with result "updated", "current",
// "local" or "failed"
func (m *Metrics) RecordCheck(result string) {
	if m == nil {
		return
	}
	m.ChecksTotal.WithLabelValues(result).Inc()
}

// RecordUpdate counts one recreation with result "success", "skipped",
// "failed", "fatal" or "self"
func (m *Metrics) RecordUpdate(result string) {
	if m == nil {
		return
	}
	m.UpdatesTotal.WithLabelValues(result).Inc()
}

// RecordNotification counts one notification with result "sent" or "failed"
func (m *Metrics) RecordNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// Handler exposes the registered collectors
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
