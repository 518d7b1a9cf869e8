package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fliptradebot_cycles_total",
		Help: "Scan cycles that ran to completion.",
	})
	CyclesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fliptradebot_cycles_skipped_total",
		Help: "Ticks that did not start a cycle.",
	}, []string{"reason"})
	CycleDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fliptradebot_last_cycle_seconds",
		Help: "Wall time of the most recent cycle.",
	})
	SymbolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fliptradebot_symbol_errors_total",
		Help: "Per-symbol failures by error class.",
	}, []string{"kind"})
	Flips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fliptradebot_flips_total",
		Help: "Actionable flips by direction.",
	}, []string{"direction"})
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fliptradebot_positions_opened_total",
		Help: "Positions opened by side.",
	}, []string{"side"})
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fliptradebot_positions_closed_total",
		Help: "Positions closed by exit reason.",
	}, []string{"reason"})
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fliptradebot_open_positions",
		Help: "Currently open positions.",
	})
)

const (
	SkipOverlap = "overlap"
	SkipLate    = "late"
)
