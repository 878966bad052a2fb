// Package metrics holds the Prometheus collectors for the poller and the
// notifier. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reviewbot"

type Metrics struct {
	reg *prometheus.Registry

	cycles        prometheus.Counter
	cycleErrors   *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	cursor        prometheus.Gauge
	notifications *prometheus.CounterVec
	retries       prometheus.Counter
}

// New creates the collectors on a fresh registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total", Help: "Poll cycles run.",
		}),
		cycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycle_errors_total", Help: "Errors raised by poll cycles, by kind.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds", Help: "Wall time of one poll cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		cursor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cursor_seconds", Help: "Current poll cursor as a unix timestamp.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total", Help: "Delivered and failed chat messages.",
		}, []string{"kind", "result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "notification_retries_total", Help: "Send attempts after the first.",
		}),
	}
	reg.MustRegister(
		m.cycles, m.cycleErrors, m.cycleDuration, m.cursor, m.notifications, m.retries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveCycle(took time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(took.Seconds())
}

func (m *Metrics) CycleError(kind string) {
	if m == nil {
		return
	}
	m.cycleErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetCursor(v int64) {
	if m == nil {
		return
	}
	m.cursor.Set(float64(v))
}

// Notification records a final delivery outcome; attempts beyond the
// first are counted as retries.
func (m *Metrics) Notification(kind string, ok bool, attempts int) {
	if m == nil {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(kind, result).Inc()
	if attempts > 1 {
		m.retries.Add(float64(attempts - 1))
	}
}
