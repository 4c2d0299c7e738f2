// Package metrics exposes Prometheus counters for the offline cache controller.
//
// A nil *Metrics is valid and records nothing, so callers pass nil when
// metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller collectors
type Metrics struct {
	requests      *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	cacheOps      *prometheus.CounterVec
	lifecycle     *prometheus.CounterVec
	sweepDeleted  *prometheus.CounterVec
	clients       prometheus.Gauge
	notifications *prometheus.CounterVec
}

// New registers the controller collectors on reg
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		requests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdftools_controller_requests_total",
				Help: "Intercepted requests by strategy and outcome",
			},
			[]string{"strategy", "outcome"}, // outcome: "network", "cache", "root", "offline", "passthrough", "error"
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "pdftools_controller_fetch_duration_milliseconds",
				Help: "Duration of upstream fetches in milliseconds",
				Buckets: []float64{
					1,     // 1ms - local upstream
					5,     // 5ms
					25,    // 25ms
					100,   // 100ms
					250,   // 250ms
					1000,  // 1s
					5000,  // 5s
					10000, // 10s - default network timeout
				},
			},
			[]string{"result"}, // "ok", "not_ok", "failed"
		),
		cacheOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdftools_controller_cache_operations_total",
				Help: "Cache generation operations by operation and status",
			},
			[]string{"operation", "status"}, // operation: "match", "put"; status: "hit", "miss", "ok", "error"
		),
		lifecycle: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdftools_controller_lifecycle_transitions_total",
				Help: "Controller version state transitions by target state",
			},
			[]string{"state"},
		),
		sweepDeleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdftools_controller_sweep_deletions_total",
				Help: "Stale cache generations handled during activation",
			},
			[]string{"status"}, // "deleted", "failed"
		),
		clients: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "pdftools_controller_clients",
				Help: "Currently registered page clients",
			},
		),
		notifications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "pdftools_controller_notifications_total",
				Help: "Notification events by kind",
			},
			[]string{"event"}, // "shown", "closed", "clicked", "evicted"
		),
	}
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) ObserveRequest(strategy, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) ObserveFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(result).Observe(duration.Seconds() * 1000)
}

func (m *Metrics) ObserveCache(operation, status string) {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.lifecycle.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveSweep(status string) {
	if m == nil {
		return
	}
	m.sweepDeleted.WithLabelValues(status).Inc()
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *Metrics) ObserveNotification(event string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(event).Inc()
}
