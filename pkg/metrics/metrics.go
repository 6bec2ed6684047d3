// Package metrics holds the Prometheus counters for the authorization lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Evaluations *prometheus.CounterVec
	Renewals    *prometheus.CounterVec
	Callbacks   *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xero_authorization_evaluations_total",
			Help: "Authorization evaluations by reported status",
		}, []string{"status"}),
		Renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xero_token_renewals_total",
			Help: "Silent token renewals by result",
		}, []string{"result"}),
		Callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "xero_authorization_callbacks_total",
			Help: "Provider callbacks handled by result",
		}, []string{"result"}),
	}
}

// ObserveEvaluation counts one evaluation with the reported status.
func (m *Metrics) ObserveEvaluation(status string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(status).Inc()
}

// ObserveRenewal counts one renewal attempt with its result.
func (m *Metrics) ObserveRenewal(result string) {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues(result).Inc()
}

// ObserveCallback counts one callback with its result.
func (m *Metrics) ObserveCallback(result string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(result).Inc()
}
