package position

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/metrics"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/services/trading"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "position")

// quantities below this are treated as fully closed
const qtyEpsilon = 1e-12

// PriceSource gives the manager a market price outside the scan loop.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Manager owns the per-symbol position state machine. All transitions for a
// symbol run under that symbol's lock.
type Manager struct {
	cfg    config.TradingConfig
	state  *state.State
	repos  *repositories.Repositories
	exec   Executor
	ledger *trading.Ledger

	locks  sync.Map
	openMu sync.Mutex
}

func NewManager(cfg config.TradingConfig, st *state.State, repos *repositories.Repositories, exec Executor, ledger *trading.Ledger) *Manager {
	return &Manager{
		cfg:    cfg,
		state:  st,
		repos:  repos,
		exec:   exec,
		ledger: ledger,
	}
}

func (m *Manager) lock(symbol string) func() {
	v, _ := m.locks.LoadOrStore(symbol, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleFlip acts on a flip the engine has not yet recorded. An opposing
// position is closed first; a new one is opened in the flip's direction when
// no cooldown, filter or position limit prevents it.
func (m *Manager) HandleFlip(ctx context.Context, sig models.FlipSignal, price, atr float64, entry strategy.EntryDecision) error {
	defer m.lock(sig.Symbol)()

	side := sig.Direction.Side()
	if pos, ok := m.state.Position(sig.Symbol); ok {
		if pos.Side == side {
			return nil
		}
		if err := m.closeLocked(ctx, pos, price, models.ExitFlip); err != nil {
			return err
		}
	}
	return m.openLocked(ctx, sig.Symbol, side, price, atr, entry)
}

func (m *Manager) openLocked(ctx context.Context, symbol, side string, price, atr float64, entry strategy.EntryDecision) error {
	entryLog := log.WithFields(logrus.Fields{"symbol": symbol, "side": side})
	now := m.state.Now()

	if m.state.InCooldown(symbol, now) {
		entryLog.Info("entry skipped: cooldown active")
		m.state.Record(models.ActivityFlip, symbol, "%s entry skipped, cooldown active", side)
		return nil
	}
	if !entry.Allowed {
		entryLog.WithField("reason", entry.Reason).Info("entry skipped by filter")
		m.state.Record(models.ActivityFlip, symbol, "%s entry skipped: %s", side, entry.Reason)
		return nil
	}

	m.openMu.Lock()
	defer m.openMu.Unlock()
	if limit := m.cfg.MaxOpenPositions; limit > 0 && m.state.OpenCount() >= limit {
		entryLog.WithField("limit", limit).Info("entry skipped: position limit reached")
		m.state.Record(models.ActivityFlip, symbol, "%s entry skipped, %d positions open", side, limit)
		return nil
	}

	notional := m.ledger.NextTradeSize(m.repos) * float64(m.cfg.Leverage)
	fill, err := m.exec.Open(ctx, symbol, side, notional, m.cfg.Leverage, price)
	if err != nil {
		return &models.ExecutionError{Symbol: symbol, Action: "open", Err: err}
	}

	targets := strategy.ComputeTargets(side, fill.Price, atr, m.cfg)
	pos := models.Position{
		Symbol:      symbol,
		TradeID:     uuid.NewString(),
		Strategy:    m.cfg.Strategy,
		Side:        side,
		EntryPrice:  fill.Price,
		EntryTime:   now,
		SizeUSD:     notional,
		Leverage:    m.cfg.Leverage,
		Quantity:    fill.Quantity,
		Remaining:   fill.Quantity,
		ATR:         atr,
		StopLoss:    targets.StopLoss,
		TakeProfits: targets.TakeProfits,
	}
	trade := models.Trade{
		ID:         pos.TradeID,
		Symbol:     symbol,
		Strategy:   pos.Strategy,
		Side:       side,
		EntryPrice: pos.EntryPrice,
		EntryTime:  now,
		SizeUSD:    notional,
		Status:     models.TradeStatusOpen,
	}

	m.protect(ctx, &pos)

	persist := func() error {
		pos.ID = 0
		return m.repos.Transaction(func(tx *repositories.Repositories) error {
			if err := tx.Trades.Create(&trade); err != nil {
				return err
			}
			return tx.Positions.Create(&pos)
		})
	}
	perr := persist()
	if perr != nil {
		entryLog.WithError(perr).Warn("failed to persist new position, retrying")
		perr = persist()
	}
	if perr != nil {
		// the order is filled, so the position is managed from memory; commit
		// inserts the row on its next ladder or stop change
		entryLog.WithError(perr).Error("position opened but not persisted")
		pos.ID = 0
	}
	if err := m.state.OpenPosition(pos); err != nil {
		return err
	}

	metrics.PositionsOpened.WithLabelValues(side).Inc()
	metrics.OpenPositions.Set(float64(m.state.OpenCount()))
	m.state.Record(models.ActivityOpen, symbol, "%s opened at %.6g, stop %.6g, TP1 %.6g",
		side, pos.EntryPrice, pos.StopLoss, pos.TakeProfits[0])
	entryLog.WithFields(logrus.Fields{
		"entry": pos.EntryPrice,
		"size":  notional,
		"stop":  pos.StopLoss,
		"tp1":   pos.TakeProfits[0],
	}).Info("position opened")

	if perr != nil {
		return &models.PersistenceError{Symbol: symbol, Kind: "position", Err: perr}
	}
	return nil
}

// OnPrice evaluates an open position against price: stop and trailing stop
// first, then each unhit take-profit level in order.
func (m *Manager) OnPrice(ctx context.Context, symbol string, price float64) error {
	defer m.lock(symbol)()

	pos, ok := m.state.Position(symbol)
	if !ok {
		return nil
	}

	if hit, stop, reason := pos.StopBreached(price); hit {
		return m.closeLocked(ctx, pos, stop, reason)
	}

	stopBefore, _ := pos.ActiveStop()
	posLog := log.WithFields(logrus.Fields{"symbol": symbol, "side": pos.Side})
	changed := false
	for i := 0; i < models.LadderSize; i++ {
		if pos.TPHit[i] {
			continue
		}
		if !pos.Reached(i, price) {
			break
		}
		if i == models.LadderSize-1 {
			return m.closeLocked(ctx, pos, price, models.ExitFinalTP)
		}

		if qty := m.sliceFor(pos, i); qty > qtyEpsilon {
			fill, err := m.exec.Close(ctx, symbol, pos.Side, qty, price)
			switch {
			case errors.Is(err, models.ErrBelowMinQuantity):
				posLog.WithField("level", i+1).Debug("slice under exchange minimum, carried to the next level")
			case err != nil:
				if changed {
					if cerr := m.save(ctx, pos, stopBefore); cerr != nil {
						posLog.WithError(cerr).Error("failed to save ladder progress")
					}
				}
				return &models.ExecutionError{Symbol: symbol, Action: fmt.Sprintf("tp%d", i+1), Err: err}
			default:
				pos.RealizedPnL += pos.PnLFor(fill.Quantity, fill.Price)
				pos.Remaining = math.Max(pos.Remaining-fill.Quantity, 0)
			}
		}

		if err := pos.MarkTakeProfit(i); err != nil {
			return err
		}
		if i == 0 {
			if err := pos.ActivateTrailing(price, m.cfg.TrailOffsetPct); err != nil {
				return err
			}
		} else {
			pos.RaiseTrailingStop(pos.TakeProfits[i-1])
		}
		changed = true

		m.state.Record(models.ActivityTakeProfit, symbol, "TP%d hit at %.6g, trailing stop %.6g", i+1, price, pos.TrailingStop)
		posLog.WithFields(logrus.Fields{"level": i + 1, "price": price, "trailing": pos.TrailingStop}).Info("take profit hit")
	}

	if pos.Remaining <= qtyEpsilon {
		return m.closeLocked(ctx, pos, price, models.ExitFinalTP)
	}

	if pos.TrailingActive {
		before := pos.TrailingStop
		if pos.RaiseTrailingStop(models.TrailLevel(pos.Side, price, m.cfg.TrailOffsetPct)) {
			changed = true
			m.state.Record(models.ActivityStopMoved, symbol, "trailing stop %.6g -> %.6g", before, pos.TrailingStop)
		}
	}

	if !changed {
		return nil
	}
	return m.save(ctx, pos, stopBefore)
}

// sliceFor is the quantity to take at ladder level i. Splits accumulate, so a
// slice that could not be filled is carried into the next level.
func (m *Manager) sliceFor(pos models.Position, i int) float64 {
	taken := 0.0
	for j := 0; j <= i; j++ {
		taken += m.cfg.TPSplits[j]
	}
	keep := pos.Quantity * math.Max(1-taken, 0)
	return math.Min(math.Max(pos.Remaining-keep, 0), pos.Remaining)
}

// save commits a changed position, moving the exchange stop first when the
// active stop level moved.
func (m *Manager) save(ctx context.Context, pos models.Position, stopBefore float64) error {
	if stop, _ := pos.ActiveStop(); stop != stopBefore {
		m.protect(ctx, &pos)
	}
	return m.commit(pos)
}

// protect replaces the resting exchange stop with one at the active stop
// level. Executors without exchange stops are left alone. A failed placement
// leaves the position guarded by polling only.
func (m *Manager) protect(ctx context.Context, pos *models.Position) {
	keeper, ok := m.exec.(StopKeeper)
	if !ok {
		return
	}
	stopLog := log.WithField("symbol", pos.Symbol)
	if pos.StopOrderID != 0 {
		if err := keeper.CancelStop(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			stopLog.WithError(err).Warn("failed to cancel previous stop order")
		}
		pos.StopOrderID = 0
	}

	level, _ := pos.ActiveStop()
	id, err := keeper.PlaceStop(ctx, pos.Symbol, pos.Side, level)
	if err != nil {
		stopLog.WithError(err).Error("exchange stop not placed")
		m.state.Record(models.ActivityError, pos.Symbol, "stop order at %.6g failed: %v", level, err)
		return
	}
	pos.StopOrderID = id
	stopLog.WithFields(logrus.Fields{"stop": level, "order": id}).Debug("exchange stop placed")
}

// commit applies an OPEN self-transition to memory, then to the store.
func (m *Manager) commit(pos models.Position) error {
	if pos.ID == 0 {
		if err := m.repos.Positions.Create(&pos); err != nil {
			_ = m.state.UpdatePosition(pos)
			return &models.PersistenceError{Symbol: pos.Symbol, Kind: "position", Err: err}
		}
	} else if err := m.repos.Positions.Update(&pos); err != nil {
		_ = m.state.UpdatePosition(pos)
		return &models.PersistenceError{Symbol: pos.Symbol, Kind: "position", Err: err}
	}
	return m.state.UpdatePosition(pos)
}

// Close force-closes the open position for symbol at market.
func (m *Manager) Close(ctx context.Context, symbol string, price float64, reason string) error {
	defer m.lock(symbol)()
	pos, ok := m.state.Position(symbol)
	if !ok {
		return fmt.Errorf("no open position for %s", symbol)
	}
	return m.closeLocked(ctx, pos, price, reason)
}

// CloseAll closes every open position, pricing each from prices and falling
// back to the last scanned price.
func (m *Manager) CloseAll(ctx context.Context, prices PriceSource, reason string) (closed int, errs []error) {
	for _, pos := range m.state.Positions() {
		price, err := prices.LastPrice(ctx, pos.Symbol)
		if err != nil {
			last, ok := m.state.Price(pos.Symbol)
			if !ok {
				errs = append(errs, err)
				continue
			}
			price = last
		}
		if err := m.Close(ctx, pos.Symbol, price, reason); err != nil {
			errs = append(errs, err)
			continue
		}
		closed++
	}
	return closed, errs
}

func (m *Manager) closeLocked(ctx context.Context, pos models.Position, refPrice float64, reason string) error {
	closeLog := log.WithFields(logrus.Fields{"symbol": pos.Symbol, "side": pos.Side, "reason": reason})

	exit := refPrice
	if pos.Remaining > qtyEpsilon {
		fill, err := m.exec.Close(ctx, pos.Symbol, pos.Side, pos.Remaining, refPrice)
		switch {
		case errors.Is(err, models.ErrBelowMinQuantity):
			closeLog.WithField("remaining", pos.Remaining).Warn("remainder under exchange minimum, booked at reference price")
		case err != nil:
			return &models.ExecutionError{Symbol: pos.Symbol, Action: "close", Err: err}
		default:
			exit = fill.Price
			if left := pos.Remaining - fill.Quantity; left > qtyEpsilon {
				closeLog.WithField("left", left).Warn("close filled less than the remainder")
			}
		}
	}
	if keeper, ok := m.exec.(StopKeeper); ok && pos.StopOrderID != 0 {
		if err := keeper.CancelStop(ctx, pos.Symbol, pos.StopOrderID); err != nil {
			closeLog.WithError(err).Warn("failed to cancel stop order")
		}
	}

	now := m.state.Now()
	pnl := pos.RealizedPnL + pos.PnLFor(pos.Remaining, exit)
	pct := 0.0
	if margin := pos.Margin(); margin > 0 {
		pct = pnl / margin * 100
	}

	var cooldown *models.Cooldown
	if pnl < 0 {
		cooldown = &models.Cooldown{
			Symbol: pos.Symbol,
			Until:  now.Add(m.cfg.Cooldown),
			Reason: reason,
		}
	}

	perr := m.repos.Transaction(func(tx *repositories.Repositories) error {
		if pos.TradeID != "" {
			err := tx.Trades.Finalize(pos.TradeID, models.TradeStatusClosed, exit, now, pnl, pct, reason)
			if err != nil && !errors.Is(err, repositories.ErrTradeNotOpen) {
				return err
			}
		}
		if err := tx.Positions.DeleteBySymbol(pos.Symbol); err != nil {
			return err
		}
		if cooldown != nil {
			if err := tx.Cooldowns.Save(cooldown); err != nil {
				return err
			}
		}
		_, err := m.ledger.ApplyClose(tx, pos.TradeID, pnl)
		return err
	})

	if _, err := m.state.ClosePosition(pos.Symbol); err != nil {
		return err
	}
	if cooldown != nil {
		m.state.SetCooldown(*cooldown)
	}

	metrics.PositionsClosed.WithLabelValues(reason).Inc()
	metrics.OpenPositions.Set(float64(m.state.OpenCount()))
	m.state.Record(models.ActivityClose, pos.Symbol, "%s closed at %.6g (%s), pnl %.2f USD / %.2f%%",
		pos.Side, exit, reason, pnl, pct)
	closeLog.WithFields(logrus.Fields{"exit": exit, "pnl": pnl, "pnl_pct": pct}).Info("position closed")

	if perr != nil {
		closeLog.WithError(perr).Error("close not persisted")
		return &models.PersistenceError{Symbol: pos.Symbol, Kind: "trade", Err: perr}
	}
	return nil
}
