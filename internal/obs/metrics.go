package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the reconciliation loop. All
// methods are safe on a nil receiver so callers can run unmetered.
type Metrics struct {
	ticks            prometheus.Counter
	tickErrors       prometheus.Counter
	ordersPlaced     *prometheus.CounterVec
	fillsDetected    prometheus.Counter
	mirrorsSubmitted prometheus.Counter
	terminalsDropped prometheus.Counter
	guardOverruns    prometheus.Counter
	openOrders       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_ticks_total",
			Help: "Reconciliation passes started.",
		}),
		tickErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_tick_errors_total",
			Help: "Reconciliation passes that ended with an error.",
		}),
		ordersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ladderbot_orders_placed_total",
			Help: "Orders accepted by the exchange, by side.",
		}, []string{"side"}),
		fillsDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_fills_detected_total",
			Help: "Tracked orders observed in FILLED state.",
		}),
		mirrorsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_mirrors_submitted_total",
			Help: "Mirror orders accepted for filled originals.",
		}),
		terminalsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_terminals_dropped_total",
			Help: "Tracked orders removed after a terminal non-fill state.",
		}),
		guardOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "ladderbot_guard_overruns_total",
			Help: "Mirror submissions skipped because price correction overran.",
		}),
		openOrders: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ladderbot_open_orders",
			Help: "Open order records in the ledger after the last pass.",
		}),
	}
}

func (m *Metrics) TickStarted() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) TickFailed() {
	if m == nil {
		return
	}
	m.tickErrors.Inc()
}

func (m *Metrics) OrderPlaced(side string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(side).Inc()
}

func (m *Metrics) FillDetected() {
	if m == nil {
		return
	}
	m.fillsDetected.Inc()
}

func (m *Metrics) MirrorSubmitted() {
	if m == nil {
		return
	}
	m.mirrorsSubmitted.Inc()
}

func (m *Metrics) TerminalDropped() {
	if m == nil {
		return
	}
	m.terminalsDropped.Inc()
}

func (m *Metrics) GuardOverrun() {
	if m == nil {
		return
	}
	m.guardOverruns.Inc()
}

func (m *Metrics) SetOpenOrders(n int) {
	if m == nil {
		return
	}
	m.openOrders.Set(float64(n))
}
