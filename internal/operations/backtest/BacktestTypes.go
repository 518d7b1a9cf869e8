package backtest

import (
	"FlipTradeBot/config"
	"time"
)

// Trade is one closed round trip of the replay.
type Trade struct {
	Symbol     string
	Side       string
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice float64
	ExitPrice  float64
	SizeUSD    float64
	PnL        float64
	PnLPct     float64
	Reason     string
}

// EquityPoint is the account value after one replay step.
type EquityPoint struct {
	Timestamp time.Time
	Balance   float64
}

type BacktestResults struct {
	Symbol       string
	Steps        int
	Flips        int
	SymbolErrors int

	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	AveragePnL    float64

	StartBalance float64
	FinalBalance float64
	MaxDrawdown  float64
	SharpeRatio  float64

	Trades      []Trade
	EquityCurve []EquityPoint
}

// Config selects what to replay. Trading and Scheduler carry the live engine
// settings; the step is the ATR timeframe.
type Config struct {
	Symbol    string
	StartTime time.Time
	EndTime   time.Time

	Trading   config.TradingConfig
	Scheduler config.SchedulerConfig
}

// NewConfig replays symbol over the given window with the engine settings
// from cfg.
func NewConfig(cfg *config.Config, symbol string, start, end time.Time) Config {
	return Config{
		Symbol:    symbol,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Trading:   cfg.Trading,
		Scheduler: cfg.Scheduler,
	}
}
