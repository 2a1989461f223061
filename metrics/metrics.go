// Package metrics holds the Prometheus collectors the pipeline updates:
//
//	fxcrew_stage_calls_total{stage,result}          reasoning-service calls (ok|denied|error|unparseable)
//	fxcrew_budget_spent_usd                         spend recorded today
//	fxcrew_budget_remaining_usd                     headroom under the daily ceiling
//	fxcrew_execution_outcomes_total{action,outcome} trade-log outcomes
//	fxcrew_validation_rejections_total{code}        proposals dropped by the risk validator
//	fxcrew_cycles_total{result}                     cycles by how they ended
//	fxcrew_cycle_duration_seconds                   wall time per cycle
//	fxcrew_account_balance                          last balance seen
//	fxcrew_open_positions                           last open position count
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	StageCalls          *prometheus.CounterVec
	BudgetSpent         prometheus.Gauge
	BudgetRemaining     prometheus.Gauge
	ExecutionOutcomes   *prometheus.CounterVec
	ValidationRejection *prometheus.CounterVec
	Cycles              *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	Balance             prometheus.Gauge
	OpenPositions       prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		StageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxcrew_stage_calls_total",
			Help: "Reasoning-service stage calls by result",
		}, []string{"stage", "result"}),
		BudgetSpent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxcrew_budget_spent_usd",
			Help: "Reasoning-service spend recorded for the current UTC day",
		}),
		BudgetRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxcrew_budget_remaining_usd",
			Help: "Remaining daily reasoning-service budget",
		}),
		ExecutionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxcrew_execution_outcomes_total",
			Help: "Execution gateway outcomes by action",
		}, []string{"action", "outcome"}),
		ValidationRejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxcrew_validation_rejections_total",
			Help: "Trade proposals rejected by the risk validator",
		}, []string{"code"}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxcrew_cycles_total",
			Help: "Completed cycles by result",
		}, []string{"result"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxcrew_cycle_duration_seconds",
			Help:    "Wall time of one cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxcrew_account_balance",
			Help: "Account balance at the start of the last cycle",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxcrew_open_positions",
			Help: "Open positions at the start of the last cycle",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.StageCalls, m.BudgetSpent, m.BudgetRemaining, m.ExecutionOutcomes,
		m.ValidationRejection, m.Cycles, m.CycleDuration, m.Balance, m.OpenPositions,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) StageCall(stage, result string) {
	if m == nil {
		return
	}
	m.StageCalls.WithLabelValues(stage, result).Inc()
}

func (m *Metrics) Budget(spent, remaining float64) {
	if m == nil {
		return
	}
	m.BudgetSpent.Set(spent)
	m.BudgetRemaining.Set(remaining)
}

func (m *Metrics) Outcome(action, outcome string) {
	if m == nil {
		return
	}
	m.ExecutionOutcomes.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.ValidationRejection.WithLabelValues(code).Inc()
}

func (m *Metrics) Cycle(result string, seconds float64) {
	if m == nil {
		return
	}
	m.Cycles.WithLabelValues(result).Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) Account(balance float64, openPositions int) {
	if m == nil {
		return
	}
	m.Balance.Set(balance)
	m.OpenPositions.Set(float64(openPositions))
}
