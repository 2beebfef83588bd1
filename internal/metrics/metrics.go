// Package metrics exposes prometheus collectors for a simulation run. Each
// run registers on its own registry so runs can be built side by side.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yieldloop"

type Metrics struct {
	Registry *prometheus.Registry

	Periods                *prometheus.CounterVec
	ReconciliationFailures prometheus.Counter
	DataFallbacks          *prometheus.CounterVec
	Events                 *prometheus.CounterVec

	TotalValue     prometheus.Gauge
	HealthFactor   prometheus.Gauge
	LTV            prometheus.Gauge
	NetDelta       prometheus.Gauge
	RiskLevel      *prometheus.GaugeVec
	MarginRatio    *prometheus.GaugeVec
	ReconcileDiff  prometheus.Gauge
	ComponentTotal *prometheus.GaugeVec
}

// New builds the collectors and registers them on reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Registry: reg,
		Periods: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "periods_total",
			Help:      "Periods processed, labelled by overall risk level",
		}, []string{"level"}),
		ReconciliationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "reconciliation_failures_total",
			Help:      "Periods whose direct total value diverged from attributed P&L",
		}),
		DataFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "market",
			Name:      "data_fallbacks_total",
			Help:      "Market data lookups served from a prior sample",
		}, []string{"kind"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events appended, by kind",
		}, []string{"kind"}),
		TotalValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "total_value_usd",
			Help:      "Directly computed total value",
		}),
		HealthFactor: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "health_factor",
			Help:      "Lending position health factor",
		}),
		LTV: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "ltv",
			Help:      "Current loan-to-value",
		}),
		NetDelta: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hedge",
			Name:      "net_delta_units",
			Help:      "Net base-asset delta after hedges",
		}),
		RiskLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "level",
			Help:      "Risk level per metric (0 safe, 1 warning, 2 critical)",
		}, []string{"metric"}),
		MarginRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hedge",
			Name:      "margin_ratio",
			Help:      "Margin ratio per venue",
		}, []string{"venue"}),
		ReconcileDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "reconciliation_diff_usd",
			Help:      "Direct total value minus attributed total",
		}),
		ComponentTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "component_cumulative_usd",
			Help:      "Cumulative attributed P&L per component",
		}, []string{"component"}),
	}

	reg.MustRegister(
		m.Periods,
		m.ReconciliationFailures,
		m.DataFallbacks,
		m.Events,
		m.TotalValue,
		m.HealthFactor,
		m.LTV,
		m.NetDelta,
		m.RiskLevel,
		m.MarginRatio,
		m.ReconcileDiff,
		m.ComponentTotal,
	)
	return m
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
