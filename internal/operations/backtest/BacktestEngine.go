package backtest

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/handlers"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/operations/position"
	"FlipTradeBot/internal/operations/price"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/services/trading"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "backtest")

// ErrShortHistory is stored history that does not reach the backtest start.
var ErrShortHistory = errors.New("history does not cover the backtest window")

// Engine replays stored candles through the live scan pipeline in paper mode,
// on a simulated clock and an isolated in-memory store.
type Engine struct {
	config  Config
	history map[string][]models.Candle
}

func NewEngine(cfg Config, history map[string][]models.Candle) *Engine {
	return &Engine{config: cfg, history: history}
}

// LoadHistory reads the stored trend and ATR series for a symbol.
func LoadHistory(repo *repositories.CandleRepository, cfg Config, limit int) (map[string][]models.Candle, error) {
	history := make(map[string][]models.Candle)
	for _, tf := range []string{cfg.Trading.TrendTimeframe, cfg.Trading.ATRTimeframe} {
		if _, ok := history[tf]; ok {
			continue
		}
		candles, err := repo.GetSeries(cfg.Symbol, tf, limit)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", cfg.Symbol, tf, err)
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("no stored %s candles for %s", tf, cfg.Symbol)
		}
		history[tf] = candles
	}
	return history, nil
}

// checkCoverage rejects history that starts after the replay window, which
// would otherwise replay as steps with no bars and no trades.
func checkCoverage(cfg Config, history map[string][]models.Candle) error {
	for _, tf := range []string{cfg.Trading.TrendTimeframe, cfg.Trading.ATRTimeframe} {
		bars := history[tf]
		if len(bars) == 0 {
			return fmt.Errorf("%w: no %s candles for %s", ErrShortHistory, tf, cfg.Symbol)
		}
		if first := bars[0].OpenTime; first.After(cfg.StartTime) {
			return fmt.Errorf("%w: %s %s history starts %s, after the window start %s", ErrShortHistory,
				cfg.Symbol, tf, first.Format(time.RFC3339), cfg.StartTime.Format(time.RFC3339))
		}
	}
	return nil
}

func (e *Engine) RunBacktest(ctx context.Context) (*BacktestResults, error) {
	cfg := e.config
	step, ok := models.TimeFrameDuration(cfg.Trading.ATRTimeframe)
	if !ok {
		return nil, fmt.Errorf("unknown timeframe %q", cfg.Trading.ATRTimeframe)
	}
	if !cfg.EndTime.After(cfg.StartTime) {
		return nil, errors.New("backtest end must be after start")
	}
	if err := checkCoverage(cfg, e.history); err != nil {
		return nil, err
	}

	db, err := repositories.Open(config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: ":memory:"})
	if err != nil {
		return nil, err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()
	repos := repositories.New(db)

	clock := &replayClock{now: cfg.StartTime}
	src, err := newReplaySource(clock, cfg.Symbol, e.history)
	if err != nil {
		return nil, err
	}

	st := state.New(step, cfg.Scheduler.HealthMultiple)
	st.SetClock(clock.Now)

	ledger := trading.NewLedger(cfg.Trading)
	account, err := ledger.Ensure(repos)
	if err != nil {
		return nil, err
	}
	start := account.Balance

	filter, err := strategy.NewStrategyManager(cfg.Trading.Strategy)
	if err != nil {
		return nil, err
	}
	store := price.NewCandleStore(repos.Candles, src, cfg.Scheduler.CandleHistory, cfg.Scheduler.CandleRetention)
	store.SetClock(clock.Now)
	manager := position.NewManager(cfg.Trading, st, repos, position.PaperExecutor{}, ledger)
	prices := handlers.NewPriceHandler(src, manager, st)

	full := &config.Config{Trading: cfg.Trading, Scheduler: cfg.Scheduler}
	full.Scheduler.Parallelism = 1
	full.Scheduler.SymbolTimeout = 0
	scan := handlers.NewStrategyHandler(full, st, repos, store,
		handlers.NewUniverse(src, []string{cfg.Symbol}, 0),
		prices,
		handlers.NewPositionHandler(cfg.Trading, store, filter, manager, st),
	)

	res := &BacktestResults{Symbol: cfg.Symbol, StartBalance: start}
	log.WithFields(logrus.Fields{
		"symbol": cfg.Symbol,
		"start":  cfg.StartTime.Format(time.RFC3339),
		"end":    cfg.EndTime.Format(time.RFC3339),
		"step":   step,
	}).Info("backtest started")

	for t := cfg.StartTime.Truncate(step); !t.After(cfg.EndTime); t = t.Add(step) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		clock.Set(t)
		report, err := scan.RunCycle(ctx)
		if err != nil {
			return nil, err
		}
		res.Steps++
		res.Flips += report.Flips
		res.SymbolErrors += len(report.Errors)
		res.EquityCurve = append(res.EquityCurve, EquityPoint{Timestamp: t, Balance: equity(repos, st, start)})
	}

	if n, errs := prices.CloseAll(ctx, models.ExitEndOfTest); len(errs) > 0 {
		return nil, fmt.Errorf("close %d open positions at end: %w", n, errs[0])
	}

	closed, err := repos.Trades.FindClosed()
	if err != nil {
		return nil, err
	}
	for _, tr := range closed {
		bt := Trade{
			Symbol:     tr.Symbol,
			Side:       tr.Side,
			EntryTime:  tr.EntryTime,
			EntryPrice: tr.EntryPrice,
			ExitPrice:  tr.ExitPrice,
			SizeUSD:    tr.SizeUSD,
			PnL:        tr.PnLUSD,
			PnLPct:     tr.PnLPct,
			Reason:     tr.Reason,
		}
		if tr.ExitTime != nil {
			bt.ExitTime = *tr.ExitTime
		}
		res.Trades = append(res.Trades, bt)
	}

	final, err := repos.Balances.FindByAsset(models.AssetUSDT)
	if err != nil {
		return nil, err
	}
	res.FinalBalance = final.Balance
	calculateResults(res)

	log.WithFields(logrus.Fields{
		"trades":  res.TotalTrades,
		"win":     res.WinRate,
		"balance": res.FinalBalance,
		"errors":  res.SymbolErrors,
	}).Info("backtest finished")
	return res, nil
}

// equity is the booked balance plus the open position, partial exits
// included, marked to the last price.
func equity(repos *repositories.Repositories, st *state.State, fallback float64) float64 {
	balance := fallback
	if b, err := repos.Balances.FindByAsset(models.AssetUSDT); err == nil && b != nil {
		balance = b.Balance
	}
	for _, p := range st.Positions() {
		if px, ok := st.Price(p.Symbol); ok {
			balance += p.UnrealizedPnL(px)
		}
	}
	return balance
}

func calculateResults(res *BacktestResults) {
	res.TotalTrades = len(res.Trades)
	if res.TotalTrades == 0 {
		return
	}

	total := 0.0
	for _, tr := range res.Trades {
		if tr.PnL > 0 {
			res.WinningTrades++
		} else {
			res.LosingTrades++
		}
		total += tr.PnL
	}
	res.WinRate = float64(res.WinningTrades) / float64(res.TotalTrades)
	res.AveragePnL = total / float64(res.TotalTrades)

	peak := res.StartBalance
	for _, point := range res.EquityCurve {
		if point.Balance > peak {
			peak = point.Balance
		}
		if peak > 0 {
			if dd := (peak - point.Balance) / peak; dd > res.MaxDrawdown {
				res.MaxDrawdown = dd
			}
		}
	}
	res.SharpeRatio = sharpeRatio(res.EquityCurve)
}

// sharpeRatio of per-step returns, not annualized.
func sharpeRatio(curve []EquityPoint) float64 {
	if len(curve) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1].Balance == 0 {
			continue
		}
		returns = append(returns, (curve[i].Balance-curve[i-1].Balance)/curve[i-1].Balance)
	}
	if len(returns) < 2 {
		return 0
	}

	avg := 0.0
	for _, r := range returns {
		avg += r
	}
	avg /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += math.Pow(r-avg, 2)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return avg / math.Sqrt(variance)
}
