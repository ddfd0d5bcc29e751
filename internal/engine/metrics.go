package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ticks          *prometheus.CounterVec
	intents        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	openPositions  *prometheus.GaugeVec
	realizedProfit *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_ticks_total",
			Help: "Engine ticks per symbol.",
		}, []string{"symbol"}),
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_intents_total",
			Help: "Intents executed successfully.",
		}, []string{"symbol", "intent"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grid_errors_total",
			Help: "Per-symbol failures by kind.",
		}, []string{"symbol", "kind"}),
		openPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_open_positions",
			Help: "Open positions in the ledger.",
		}, []string{"symbol"}),
		realizedProfit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "grid_realized_profit",
			Help: "Realized profit net of fees since start.",
		}, []string{"symbol"}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.intents, m.errors, m.openPositions, m.realizedProfit)
	}
	return m
}

func (m *Metrics) tick(symbol string) {
	if m != nil {
		m.ticks.WithLabelValues(symbol).Inc()
	}
}

func (m *Metrics) intent(symbol, intent string) {
	if m != nil {
		m.intents.WithLabelValues(symbol, intent).Inc()
	}
}

func (m *Metrics) fail(symbol, kind string) {
	if m != nil {
		m.errors.WithLabelValues(symbol, kind).Inc()
	}
}

func (m *Metrics) positions(symbol string, n int) {
	if m != nil {
		m.openPositions.WithLabelValues(symbol).Set(float64(n))
	}
}

func (m *Metrics) profit(symbol string, v float64) {
	if m != nil {
		m.realizedProfit.WithLabelValues(symbol).Add(v)
	}
}
