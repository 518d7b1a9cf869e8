package handlers

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/operations/position"
	"FlipTradeBot/internal/operations/price"
	"FlipTradeBot/internal/services/indicators"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/state"
	"context"

	"github.com/sirupsen/logrus"
)

// PositionHandler turns an actionable flip into a position request: it sizes
// the stop from ATR, consults the entry filter and hands over to the manager.
type PositionHandler struct {
	cfg     config.TradingConfig
	candles *price.CandleStore
	filter  strategy.EntryFilter
	manager *position.Manager
	state   *state.State
}

func NewPositionHandler(
	cfg config.TradingConfig,
	candles *price.CandleStore,
	filter strategy.EntryFilter,
	manager *position.Manager,
	st *state.State,
) *PositionHandler {
	return &PositionHandler{
		cfg:     cfg,
		candles: candles,
		filter:  filter,
		manager: manager,
		state:   st,
	}
}

// HandleFlip acts on sig at the given market price.
func (h *PositionHandler) HandleFlip(ctx context.Context, sig models.FlipSignal, px float64) error {
	side := sig.Direction.Side()
	bars := h.atrCandles(ctx, sig.Symbol)

	atr, err := indicators.ATR(bars, h.cfg.ATRPeriod)
	if err != nil {
		atr = 0
		log.WithFields(logrus.Fields{"symbol": sig.Symbol, "fallback_pct": h.cfg.SLPercentFallback}).
			WithError(err).Warn("no ATR, using percentage stop")
	}

	decision := h.filter.Allow(side, bars)
	return h.manager.HandleFlip(ctx, sig, px, atr, decision)
}

func (h *PositionHandler) atrCandles(ctx context.Context, symbol string) []models.Candle {
	series, err := h.candles.Refresh(ctx, symbol, h.cfg.ATRTimeframe)
	if err != nil {
		log.WithField("symbol", symbol).WithError(err).Warn("failed to load ATR candles")
		return nil
	}
	return price.Completed(series, h.state.Now())
}
