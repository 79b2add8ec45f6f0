// Package metrics exposes the trial engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the services report to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	verdicts       *prometheus.CounterVec
	recordFailures *prometheus.CounterVec
	pendingRecords prometheus.Gauge
	adminActions   *prometheus.CounterVec
	storeTimeouts  prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialguard_verdicts_total",
			Help: "Eligibility verdicts by result and reason code.",
		}, []string{"result", "reason"}),
		recordFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialguard_record_failures_total",
			Help: "Usage recording steps that exhausted their retries.",
		}, []string{"step"}),
		pendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trialguard_pending_records",
			Help: "Usage recordings waiting for replay.",
		}),
		adminActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trialguard_admin_actions_total",
			Help: "Operator actions applied to correlation records.",
		}, []string{"kind", "action"}),
		storeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trialguard_store_timeouts_total",
			Help: "Evaluations denied because the store did not answer in time.",
		}),
	}
	m.registry.MustRegister(
		m.verdicts,
		m.recordFailures,
		m.pendingRecords,
		m.adminActions,
		m.storeTimeouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Verdict(allowed bool, reason string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.verdicts.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) RecordFailure(step string) {
	if m == nil {
		return
	}
	m.recordFailures.WithLabelValues(step).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pendingRecords.Set(float64(n))
}

func (m *Metrics) AdminAction(kind, action string) {
	if m == nil {
		return
	}
	m.adminActions.WithLabelValues(kind, action).Inc()
}

func (m *Metrics) StoreTimeout() {
	if m == nil {
		return
	}
	m.storeTimeouts.Inc()
}
