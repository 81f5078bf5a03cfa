// Package metrics provides Prometheus instrumentation for the provider.
//
// A nil *Metrics is valid and records nothing, so instrumentation stays
// optional for embedders that do not run Prometheus.
package metrics

import (
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors used by the provider.
type Metrics struct {
	EvaluationsTotal *prometheus.CounterVec
	EventsTotal      *prometheus.CounterVec
	DiagnosticsTotal *prometheus.CounterVec
	DataSourceState  *prometheus.GaugeVec
}

// New creates the provider collectors and registers them with reg.
// It returns nil when reg is nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldof_flag_evaluations_total",
			Help: "Total number of flag evaluations by requested type, reason and error code.",
		}, []string{"flag_type", "reason", "error_code"}),

		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldof_provider_events_total",
			Help: "Total number of provider lifecycle events emitted.",
		}, []string{"event"}),

		DiagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ldof_context_diagnostics_total",
			Help: "Total number of evaluation context anomalies repaired or dropped.",
		}, []string{"level"}),

		DataSourceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ldof_data_source_state",
			Help: "Current data source state reported by the backend (1 for the active state).",
		}, []string{"state"}),
	}

	for _, c := range []prometheus.Collector{
		m.EvaluationsTotal,
		m.EventsTotal,
		m.DiagnosticsTotal,
		m.DataSourceState,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordEvaluation counts one evaluation.
func (m *Metrics) RecordEvaluation(flagType, reason, errorCode string) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(flagType, reason, errorCode).Inc()
}

// RecordEvent counts one emitted provider event.
func (m *Metrics) RecordEvent(event string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(event).Inc()
}

// RecordDiagnostic counts one context conversion anomaly.
func (m *Metrics) RecordDiagnostic(level slog.Level) {
	if m == nil {
		return
	}
	m.DiagnosticsTotal.WithLabelValues(strings.ToLower(level.String())).Inc()
}

// SetDataSourceState marks state as the active data source state.
func (m *Metrics) SetDataSourceState(state string) {
	if m == nil {
		return
	}
	m.DataSourceState.Reset()
	m.DataSourceState.WithLabelValues(state).Set(1)
}
