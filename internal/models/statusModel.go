package models

import "time"

type SymbolError struct {
	Symbol string `json:"symbol"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// ScanReport describes the most recent cycle.
type ScanReport struct {
	StartTime      time.Time     `json:"start_time"`
	Duration       time.Duration `json:"duration"`
	SymbolsScanned int           `json:"symbols_scanned"`
	Flips          int           `json:"flips"`
	Errors         []SymbolError `json:"errors"`
	Fatal          string        `json:"fatal,omitempty"`
}

type Heartbeat struct {
	LastTickTime time.Time `json:"last_tick_time"`
	Healthy      bool      `json:"healthy"`
	Cycles       int64     `json:"cycles"`
	Missed       int64     `json:"missed"`
	LastError    string    `json:"last_error,omitempty"`
}

// SymbolStatus is the per-symbol trend view served to the dashboard.
type SymbolStatus struct {
	Symbol        string    `json:"symbol"`
	CurrentTrend  Trend     `json:"current_trend"`
	RecordedTrend Trend     `json:"recorded_trend"`
	IsFlipReady   bool      `json:"is_flip_ready"`
	LastPrice     float64   `json:"last_price"`
	UpdatedAt     time.Time `json:"updated_at"`
	InCooldown    bool      `json:"in_cooldown"`
}

// PositionView is an open position with its live P&L.
type PositionView struct {
	Position
	MarkPrice     float64 `json:"mark_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	UnrealizedPct float64 `json:"unrealized_pct"`
}

type ActivityEvent struct {
	Time    time.Time `json:"time"`
	Kind    string    `json:"kind"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
}

const (
	ActivityFlip       = "flip"
	ActivityOpen       = "open"
	ActivityClose      = "close"
	ActivityTakeProfit = "take_profit"
	ActivityStopMoved  = "stop_moved"
	ActivityReconcile  = "reconcile"
	ActivityError      = "error"
)

// ExchangePosition is an open position as reported by the exchange.
type ExchangePosition struct {
	Symbol     string
	Side       string
	Quantity   float64
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
}
