// Package metrics provides Prometheus instrumentation for the security engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "techphono_security"

// Metrics holds every collector the engine reports. A value is created once
// per process (or per test) and injected into the components that record.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	EventLogFailures   prometheus.Counter
	RateLimitDecisions *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	BlocksTotal        prometheus.Counter
	AlertsTotal        *prometheus.CounterVec
	StoreErrorsTotal   *prometheus.CounterVec
	SignInsTotal       *prometheus.CounterVec
	GateRequestsTotal  *prometheus.CounterVec
	ActiveSession      prometheus.Gauge
	AlertSubscribers   prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Security events recorded by type and severity.",
			},
			[]string{"type", "severity"},
		),
		EventLogFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_log_failures_total",
				Help:      "Security events that could not be persisted.",
			},
		),
		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limiter decisions by limiter and result.",
			},
			[]string{"limiter", "result"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockouts_total",
				Help:      "Lockouts applied.",
			},
		),
		BlocksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_total",
				Help:      "Device or IP block records created.",
			},
		),
		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Security alerts raised by rule.",
			},
			[]string{"rule"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Key-value store failures by component.",
			},
			[]string{"component"},
		),
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sign_ins_total",
				Help:      "Sign-in attempts by outcome.",
			},
			[]string{"outcome"},
		),
		GateRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gate_requests_total",
				Help:      "API gate validations by result.",
			},
			[]string{"result"},
		),
		ActiveSession: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_session",
				Help:      "1 while a user session is active on this device.",
			},
		),
		AlertSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "alert_subscribers",
				Help:      "Connected realtime alert subscribers.",
			},
		),
		gatherer: reg,
	}

	reg.MustRegister(
		m.EventsTotal,
		m.EventLogFailures,
		m.RateLimitDecisions,
		m.LockoutsTotal,
		m.BlocksTotal,
		m.AlertsTotal,
		m.StoreErrorsTotal,
		m.SignInsTotal,
		m.GateRequestsTotal,
		m.ActiveSession,
		m.AlertSubscribers,
	)
	return m
}

// Nop returns metrics bound to a private registry nobody scrapes.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
