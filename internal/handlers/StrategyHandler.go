package handlers

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/metrics"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/operations/price"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/indicators"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var log = logrus.WithField("component", "scan")

// StrategyHandler runs one scan cycle: for every symbol in the universe it
// refreshes candles, smooths them, checks for a flip and drives the position
// manager. Symbols are isolated from each other's failures.
type StrategyHandler struct {
	trendTimeframe string
	parallelism    int
	symbolTimeout  time.Duration

	state     *state.State
	repos     *repositories.Repositories
	candles   *price.CandleStore
	universe  *Universe
	prices    *PriceHandler
	positions *PositionHandler
}

func NewStrategyHandler(
	cfg *config.Config,
	st *state.State,
	repos *repositories.Repositories,
	candles *price.CandleStore,
	universe *Universe,
	prices *PriceHandler,
	positions *PositionHandler,
) *StrategyHandler {
	parallelism := cfg.Scheduler.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}
	return &StrategyHandler{
		trendTimeframe: cfg.Trading.TrendTimeframe,
		parallelism:    parallelism,
		symbolTimeout:  cfg.Scheduler.SymbolTimeout,
		state:          st,
		repos:          repos,
		candles:        candles,
		universe:       universe,
		prices:         prices,
		positions:      positions,
	}
}

// RunCycle scans every symbol once and publishes the resulting ScanReport.
// The returned error is non-nil only for cycle-fatal failures.
func (h *StrategyHandler) RunCycle(ctx context.Context) (models.ScanReport, error) {
	started := time.Now()
	report := models.ScanReport{StartTime: h.state.Now()}

	symbols, err := h.universe.Symbols(ctx)
	if err != nil {
		err = fmt.Errorf("resolve symbol universe: %w", err)
		report.Fatal = err.Error()
		report.Duration = time.Since(started)
		h.state.SetReport(report)
		return report, err
	}
	h.state.SetSymbols(symbols)

	held := make([]string, 0)
	for _, p := range h.state.Positions() {
		held = append(held, p.Symbol)
	}
	symbols = withHeld(symbols, held)

	var (
		mu    sync.Mutex
		flips int
		errs  []models.SymbolError
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.parallelism)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			sctx := gctx
			if h.symbolTimeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, h.symbolTimeout)
				defer cancel()
			}

			flipped, err := h.processSymbol(sctx, symbol)

			mu.Lock()
			defer mu.Unlock()
			if flipped {
				flips++
			}
			if err == nil {
				return nil
			}
			kind := models.Kind(err)
			metrics.SymbolErrors.WithLabelValues(kind).Inc()
			errs = append(errs, models.SymbolError{Symbol: symbol, Kind: kind, Error: err.Error()})
			log.WithFields(logrus.Fields{"symbol": symbol, "kind": kind}).WithError(err).Warn("symbol failed")
			h.state.Record(models.ActivityError, symbol, "%s: %v", kind, err)

			if errors.Is(err, models.ErrGate) {
				return err
			}
			return nil
		})
	}
	fatal := g.Wait()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Symbol < errs[j].Symbol })
	report.SymbolsScanned = len(symbols)
	report.Flips = flips
	report.Errors = errs
	report.Duration = time.Since(started)
	if fatal != nil {
		report.Fatal = fatal.Error()
	}
	h.state.SetReport(report)

	log.WithFields(logrus.Fields{
		"symbols":  report.SymbolsScanned,
		"flips":    flips,
		"errors":   len(errs),
		"duration": report.Duration.Round(time.Millisecond),
	}).Info("scan cycle finished")
	return report, fatal
}

// processSymbol runs fetch, smoothing, flip check and position update for one
// symbol. flipped reports whether an actionable flip was handed to the
// position manager.
func (h *StrategyHandler) processSymbol(ctx context.Context, symbol string) (flipped bool, err error) {
	symLog := log.WithField("symbol", symbol)

	series, err := h.candles.Refresh(ctx, symbol, h.trendTimeframe)
	if err != nil {
		return false, err
	}
	done := price.Completed(series, h.state.Now())

	hs, known := h.state.HAState(symbol)
	var seed *models.SmoothedCandle
	if known {
		seed = hs.Seed()
	}
	bars, resumed := indicators.Resume(done, seed)
	if seed != nil && !resumed {
		symLog.WithField("seed", seed.OpenTime).Warn("seed bar not in stored history, recomputing from scratch")
	}
	if len(bars) == 0 || (!known && len(bars) < 2) {
		return false, &models.DataError{Symbol: symbol, Err: fmt.Errorf("need two completed bars, have %d", len(done))}
	}

	current := bars[len(bars)-1].Trend
	h.state.SetTrend(symbol, current)

	recorded := current
	switch {
	case known:
		recorded = hs.LastTrend
	case len(bars) >= 2:
		recorded = bars[len(bars)-2].Trend
	}

	px, err := h.prices.Mark(ctx, symbol)
	if err != nil && px == 0 {
		return false, err
	}
	markErr := err

	sig := strategy.DetectFlipSeries(symbol, bars)
	actionable := (sig != nil && sig.Direction != recorded) ||
		(known && hs.PendingTrend == current && current != recorded)

	next := models.HAState{Symbol: symbol, LastTrend: current, LastUpdate: h.state.Now()}
	next.SetSeed(bars[len(bars)-1])

	if actionable {
		if sig == nil {
			sig = &models.FlipSignal{Symbol: symbol, Timestamp: bars[len(bars)-1].OpenTime, Direction: current}
		}
		metrics.Flips.WithLabelValues(string(sig.Direction)).Inc()
		h.state.Record(models.ActivityFlip, symbol, "trend flipped %s -> %s", recorded, sig.Direction)
		symLog.WithFields(logrus.Fields{"from": recorded, "to": sig.Direction, "price": px}).Info("flip detected")

		if ferr := h.positions.HandleFlip(ctx, *sig, px); ferr != nil {
			// keep the old trend so the flip is retried next cycle
			next.LastTrend = recorded
			next.PendingTrend = current
			if serr := h.saveState(next); serr != nil {
				symLog.WithError(serr).Error("failed to save pending flip")
			}
			return true, ferr
		}
		flipped = true
	}

	if err := h.saveState(next); err != nil {
		return flipped, err
	}
	return flipped, markErr
}

func (h *StrategyHandler) saveState(hs models.HAState) error {
	h.state.PutHAState(hs)
	if err := h.repos.HAStates.Save(&hs); err != nil {
		return &models.PersistenceError{Symbol: hs.Symbol, Kind: "ha_state", Err: err}
	}
	return nil
}
