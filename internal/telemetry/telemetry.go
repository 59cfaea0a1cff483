// Package telemetry exports Prometheus metrics about the collection pipeline
// itself. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	viewers          prometheus.Gauge
	deliveryFailures prometheus.Counter
	alertsRaised     *prometheus.CounterVec
	pointsWritten    prometheus.Counter
	pointsPruned     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dockpulse_cycles_total",
			Help: "Completed collection cycles by outcome",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dockpulse_cycle_duration_seconds",
			Help:    "Wall time of one collection cycle",
			Buckets: prometheus.DefBuckets,
		}),
		viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dockpulse_viewers",
			Help: "Currently registered viewer connections",
		}),
		deliveryFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dockpulse_delivery_failures_total",
			Help: "Pushes that failed or exceeded the write budget",
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dockpulse_alerts_raised_total",
			Help: "Alerts raised by type and severity",
		}, []string{"type", "severity"}),
		pointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dockpulse_metric_points_written_total",
			Help: "Metric points appended to the store",
		}),
		pointsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dockpulse_metric_points_pruned_total",
			Help: "Metric points removed by retention",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleDuration, m.viewers, m.deliveryFailures,
		m.alertsRaised, m.pointsWritten, m.pointsPruned,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCycle(d time.Duration, degraded bool) {
	if m == nil {
		return
	}
	result := "ok"
	if degraded {
		result = "degraded"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetViewers(n int) {
	if m == nil {
		return
	}
	m.viewers.Set(float64(n))
}

func (m *Metrics) DeliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryFailures.Inc()
}

func (m *Metrics) AlertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) PointsWritten(n int) {
	if m == nil {
		return
	}
	m.pointsWritten.Add(float64(n))
}

func (m *Metrics) PointsPruned(n int64) {
	if m == nil {
		return
	}
	m.pointsPruned.Add(float64(n))
}
