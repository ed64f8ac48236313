// Package metrics exposes the trade engine's Prometheus instruments.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "papertrader"

// Metrics groups the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SweepDuration *prometheus.HistogramVec
	SweepErrors   *prometheus.CounterVec
	OpenPositions prometheus.Gauge
	TradesOpened  *prometheus.CounterVec
	Exits         *prometheus.CounterVec
	ExitQuantity  *prometheus.CounterVec
	OIFlags       *prometheus.CounterVec
	Outcomes      *prometheus.CounterVec
}

// New registers the collectors with reg, normally the registry served on
// /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sweep_duration_seconds",
			Help:      "Wall time of one monitoring sweep over all open positions",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"loop"}),
		SweepErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "instrument_errors_total",
			Help:      "Per-instrument failures isolated during a sweep",
		}, []string{"loop"}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "open_positions",
			Help:      "Open target sets seen by the last position sweep",
		}),
		TradesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "opened_total",
			Help:      "Virtual positions opened",
		}, []string{"exchange", "levels"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "exits_total",
			Help:      "Executed exit tranches by reason",
		}, []string{"reason"}),
		ExitQuantity: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trades",
			Name:      "exit_quantity_total",
			Help:      "Units closed by reason",
		}, []string{"reason"}),
		OIFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oi",
			Name:      "flags_raised_total",
			Help:      "Open-interest exit flags raised",
		}, []string{"flag"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outcomes",
			Name:      "sink_failures_total",
			Help:      "Outcome fan-out failures by sink",
		}, []string{"sink"}),
	}
}

// ReasonLabel folds free-form exit reasons ("OI-EXIT LONG_UNWINDING") to
// their first word so label cardinality stays bounded.
func ReasonLabel(reason string) string {
	if i := strings.IndexByte(reason, ' '); i > 0 {
		return reason[:i]
	}
	if reason == "" {
		return "unknown"
	}
	return reason
}

// ObserveSweep records the duration of one loop iteration.
func (m *Metrics) ObserveSweep(loop string, d time.Duration, open int) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(loop).Observe(d.Seconds())
	if loop == "position" {
		m.OpenPositions.Set(float64(open))
	}
}

// InstrumentError counts one isolated per-instrument failure.
func (m *Metrics) InstrumentError(loop string) {
	if m == nil {
		return
	}
	m.SweepErrors.WithLabelValues(loop).Inc()
}

// TradeOpened counts an opened position; smart reports whether aggregated
// levels replaced the signal's own.
func (m *Metrics) TradeOpened(exchange string, smart bool) {
	if m == nil {
		return
	}
	levels := "signal"
	if smart {
		levels = "smart"
	}
	m.TradesOpened.WithLabelValues(exchange, levels).Inc()
}

// ExitExecuted counts one executed tranche.
func (m *Metrics) ExitExecuted(reason string, qty int) {
	if m == nil {
		return
	}
	l := ReasonLabel(reason)
	m.Exits.WithLabelValues(l).Inc()
	m.ExitQuantity.WithLabelValues(l).Add(float64(qty))
}

// OIFlagRaised counts a newly raised OI flag ("exit_all" or "immediate").
func (m *Metrics) OIFlagRaised(flag string) {
	if m == nil {
		return
	}
	m.OIFlags.WithLabelValues(flag).Inc()
}

// SinkFailed counts a failed outcome sink.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(sink).Inc()
}
