// Package metrics exposes the daemon's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rechenkasten"

// Metrics holds every collector. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	computersRunning prometheus.Gauge
	boots            prometheus.Counter
	guestErrors      prometheus.Counter
	events           prometheus.Counter
	escalations      *prometheus.CounterVec
	netRequests      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		computersRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "computers_running",
			Help:      "Computers currently registered as live.",
		}),
		boots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boots_total",
			Help:      "Engine boots, including reboots.",
		}),
		guestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guest_errors_total",
			Help:      "Uncaught guest errors that ended a boot.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_delivered_total",
			Help:      "Events handed to guest programs.",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "watchdog_escalations_total",
			Help:      "Watchdog actions against unresponsive guests.",
		}, []string{"action"}),
		netRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "net_requests_total",
			Help:      "Guest network requests by kind and outcome.",
		}, []string{"kind", "result"}),
	}
	m.registry.MustRegister(
		m.computersRunning, m.boots, m.guestErrors, m.events, m.escalations, m.netRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterGaugeFunc adds a gauge sampled from fn at scrape time.
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) ComputerStarted() {
	if m != nil {
		m.computersRunning.Inc()
	}
}

func (m *Metrics) ComputerStopped() {
	if m != nil {
		m.computersRunning.Dec()
	}
}

func (m *Metrics) Boot() {
	if m != nil {
		m.boots.Inc()
	}
}

func (m *Metrics) GuestError() {
	if m != nil {
		m.guestErrors.Inc()
	}
}

func (m *Metrics) EventDelivered() {
	if m != nil {
		m.events.Inc()
	}
}

// Escalation records a watchdog action: "abort", "restart", "wait" or "kill".
func (m *Metrics) Escalation(action string) {
	if m != nil {
		m.escalations.WithLabelValues(action).Inc()
	}
}

// NetRequest records a guest network call. kind is "http" or "websocket".
func (m *Metrics) NetRequest(kind, result string) {
	if m != nil {
		m.netRequests.WithLabelValues(kind, result).Inc()
	}
}
