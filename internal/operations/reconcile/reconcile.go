package reconcile

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/metrics"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "reconcile")

// quantity differences below this are rounding noise
const qtyTolerance = 1e-9

// PositionLister reports the exchange's live positions.
type PositionLister interface {
	OpenPositions(ctx context.Context) ([]models.ExchangePosition, error)
}

// Result summarizes a startup reconciliation.
type Result struct {
	Loaded    int
	Closed    int
	Adopted   int
	Resized   int
	Conflicts []models.ReconciliationConflict
}

// Reconciler loads persisted engine state into memory before the first cycle.
// With an exchange it also aligns open positions to the exchange, which is
// authoritative for whether a position exists; local records keep their
// descriptive fields.
type Reconciler struct {
	cfg      config.TradingConfig
	repos    *repositories.Repositories
	state    *state.State
	exchange PositionLister
}

// New returns a Reconciler. exchange is nil in paper mode.
func New(cfg config.TradingConfig, repos *repositories.Repositories, st *state.State, exchange PositionLister) *Reconciler {
	return &Reconciler{cfg: cfg, repos: repos, state: st, exchange: exchange}
}

func (r *Reconciler) Run(ctx context.Context) (Result, error) {
	var res Result
	now := r.state.Now()

	haStates, corrupt, err := r.repos.HAStates.FindAll()
	if err != nil {
		return res, &models.PersistenceError{Kind: "ha_state", Err: err}
	}
	for _, cerr := range corrupt {
		var pe *models.PersistenceError
		if errors.As(cerr, &pe) {
			if derr := r.repos.HAStates.Delete(pe.Symbol); derr != nil {
				log.WithError(derr).WithField("symbol", pe.Symbol).Error("failed to drop corrupt HA state")
			}
		}
		log.WithError(cerr).Error("corrupt HA state discarded, symbol starts fresh")
	}
	for _, hs := range haStates {
		r.state.PutHAState(hs)
	}

	if err := r.repos.Cooldowns.DeleteExpired(now); err != nil {
		log.WithError(err).Warn("failed to prune expired cooldowns")
	}
	cooldowns, err := r.repos.Cooldowns.FindActive(now)
	if err != nil {
		return res, &models.PersistenceError{Kind: "cooldown", Err: err}
	}
	for _, c := range cooldowns {
		r.state.SetCooldown(c)
	}

	stored, err := r.repos.Positions.FindAll()
	if err != nil {
		return res, &models.PersistenceError{Kind: "position", Err: err}
	}
	local := make(map[string]models.Position, len(stored))
	for _, p := range stored {
		if verr := p.Validate(); verr != nil {
			log.WithError(verr).WithField("symbol", p.Symbol).Error("corrupt stored position discarded")
			if derr := r.repos.Positions.DeleteBySymbol(p.Symbol); derr != nil {
				return res, &models.PersistenceError{Symbol: p.Symbol, Kind: "position", Err: derr}
			}
			continue
		}
		local[p.Symbol] = p
	}
	res.Loaded = len(local)

	if r.exchange != nil {
		live, err := r.exchange.OpenPositions(ctx)
		if err != nil {
			return res, fmt.Errorf("load exchange positions: %w", err)
		}
		if err := r.align(local, live, &res); err != nil {
			return res, err
		}
	}

	final := make([]models.Position, 0, len(local))
	for _, p := range local {
		final = append(final, p)
	}
	sort.Slice(final, func(i, j int) bool { return final[i].Symbol < final[j].Symbol })
	r.state.ReplacePositions(final)
	metrics.OpenPositions.Set(float64(len(final)))

	log.WithFields(logrus.Fields{
		"ha_states": len(haStates),
		"cooldowns": len(cooldowns),
		"positions": len(final),
		"closed":    res.Closed,
		"adopted":   res.Adopted,
		"resized":   res.Resized,
	}).Info("state reconciled")
	return res, nil
}

// align applies the exchange's view to local in one transaction.
func (r *Reconciler) align(local map[string]models.Position, live []models.ExchangePosition, res *Result) error {
	now := r.state.Now()
	remote := make(map[string]models.ExchangePosition, len(live))
	for _, p := range live {
		remote[p.Symbol] = p
	}

	var (
		closeLocal []models.Position
		adopt      []models.ExchangePosition
		resize     []models.Position
	)
	for sym, lp := range local {
		ep, ok := remote[sym]
		switch {
		case !ok:
			res.Conflicts = append(res.Conflicts, models.ReconciliationConflict{Symbol: sym, Local: lp.Side, Exchange: "NONE"})
			closeLocal = append(closeLocal, lp)
		case ep.Side != lp.Side:
			res.Conflicts = append(res.Conflicts, models.ReconciliationConflict{Symbol: sym, Local: lp.Side, Exchange: ep.Side})
			closeLocal = append(closeLocal, lp)
			adopt = append(adopt, ep)
		case math.Abs(ep.Quantity-lp.Remaining) > qtyTolerance:
			res.Conflicts = append(res.Conflicts, models.ReconciliationConflict{
				Symbol:   sym,
				Local:    fmt.Sprintf("%s %g", lp.Side, lp.Remaining),
				Exchange: fmt.Sprintf("%s %g", ep.Side, ep.Quantity),
			})
			lp.Remaining = ep.Quantity
			if lp.Quantity < ep.Quantity {
				lp.Quantity = ep.Quantity
			}
			resize = append(resize, lp)
		}
	}
	for sym, ep := range remote {
		if _, ok := local[sym]; !ok {
			res.Conflicts = append(res.Conflicts, models.ReconciliationConflict{Symbol: sym, Local: "NONE", Exchange: ep.Side})
			adopt = append(adopt, ep)
		}
	}
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].Symbol < res.Conflicts[j].Symbol })

	adopted := make([]models.Position, 0, len(adopt))
	err := r.repos.Transaction(func(tx *repositories.Repositories) error {
		for _, lp := range closeLocal {
			if lp.TradeID != "" {
				err := tx.Trades.Finalize(lp.TradeID, models.TradeStatusClosed, 0, now, lp.RealizedPnL, 0, models.ExitReconcile)
				if err != nil && !errors.Is(err, repositories.ErrTradeNotOpen) {
					return err
				}
			}
			if err := tx.Positions.DeleteBySymbol(lp.Symbol); err != nil {
				return err
			}
		}
		for _, lp := range resize {
			if err := tx.Positions.Update(&lp); err != nil {
				return err
			}
		}
		for _, ep := range adopt {
			pos, trade := r.adopt(ep)
			if err := tx.Trades.Create(&trade); err != nil {
				return err
			}
			if err := tx.Positions.Create(&pos); err != nil {
				return err
			}
			adopted = append(adopted, pos)
		}
		return nil
	})
	if err != nil {
		return &models.PersistenceError{Kind: "reconcile", Err: err}
	}

	for _, lp := range closeLocal {
		delete(local, lp.Symbol)
		r.state.Record(models.ActivityReconcile, lp.Symbol, "stale %s position closed, not open on exchange", lp.Side)
	}
	for _, lp := range resize {
		local[lp.Symbol] = lp
		r.state.Record(models.ActivityReconcile, lp.Symbol, "quantity set to exchange %g", lp.Remaining)
	}
	for _, p := range adopted {
		local[p.Symbol] = p
		r.state.Record(models.ActivityReconcile, p.Symbol, "adopted exchange %s position at %.6g", p.Side, p.EntryPrice)
	}
	for i := range res.Conflicts {
		log.WithError(&res.Conflicts[i]).Warn("position conflict, exchange wins")
	}

	res.Closed = len(closeLocal)
	res.Adopted = len(adopted)
	res.Resized = len(resize)
	return nil
}

// adopt builds a managed position for one the exchange holds but the store
// does not know. Targets use the percentage stop since no ATR is at hand.
func (r *Reconciler) adopt(ep models.ExchangePosition) (models.Position, models.Trade) {
	now := r.state.Now()
	leverage := ep.Leverage
	if leverage < 1 {
		leverage = r.cfg.Leverage
	}
	targets := strategy.ComputeTargets(ep.Side, ep.EntryPrice, 0, r.cfg)
	pos := models.Position{
		Symbol:      ep.Symbol,
		TradeID:     uuid.NewString(),
		Strategy:    config.StrategyBase,
		Side:        ep.Side,
		EntryPrice:  ep.EntryPrice,
		EntryTime:   now,
		SizeUSD:     ep.Quantity * ep.EntryPrice,
		Leverage:    leverage,
		Quantity:    ep.Quantity,
		Remaining:   ep.Quantity,
		ATR:         strategy.FallbackATR(ep.EntryPrice, r.cfg),
		StopLoss:    targets.StopLoss,
		TakeProfits: targets.TakeProfits,
	}
	trade := models.Trade{
		ID:         pos.TradeID,
		Symbol:     ep.Symbol,
		Strategy:   pos.Strategy,
		Side:       ep.Side,
		EntryPrice: ep.EntryPrice,
		EntryTime:  now,
		SizeUSD:    pos.SizeUSD,
		Status:     models.TradeStatusOpen,
	}
	return pos, trade
}
