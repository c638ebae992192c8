// SPDX-License-Identifier: MIT
// Copyright © 2024–2026 Alexander Demin

package rabbitflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the runtime's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Deliveries    *prometheus.CounterVec
	Publishes     *prometheus.CounterVec
	Reconnects    *prometheus.CounterVec
	JobsQueued    prometheus.Gauge
	ChecksRunning prometheus.Gauge
	Checks        *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries handled, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		Publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Messages published, by output queue and result.",
		}, []string{"queue", "result"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Consumption cycles restarted after a failure.",
		}, []string{"queue"}),
		JobsQueued: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_jobs_queued",
			Help:      "Poll jobs waiting in the scheduler queue.",
		}),
		ChecksRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_checks_running",
			Help:      "Poll checks currently executing.",
		}),
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_checks_total",
			Help:      "Poll checks finished, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) delivery(queue, outcome string) {
	if m == nil {
		return
	}

	m.Deliveries.WithLabelValues(queue, outcome).Inc()
}

func (m *Metrics) publish(queue string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.Publishes.WithLabelValues(queue, result).Inc()
}

func (m *Metrics) reconnect(queue string) {
	if m == nil {
		return
	}

	m.Reconnects.WithLabelValues(queue).Inc()
}

func (m *Metrics) jobs(queued, running int) {
	if m == nil {
		return
	}

	m.JobsQueued.Set(float64(queued))
	m.ChecksRunning.Set(float64(running))
}

func (m *Metrics) check(result string) {
	if m == nil {
		return
	}

	m.Checks.WithLabelValues(result).Inc()
}
