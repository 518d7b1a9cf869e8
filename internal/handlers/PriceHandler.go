package handlers

import (
	"FlipTradeBot/internal/operations/position"
	"FlipTradeBot/internal/state"
	"context"
)

// PriceSource returns the latest traded price for a symbol.
type PriceSource interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceHandler marks open positions to the current market price.
type PriceHandler struct {
	prices  PriceSource
	manager *position.Manager
	state   *state.State
}

func NewPriceHandler(prices PriceSource, manager *position.Manager, st *state.State) *PriceHandler {
	return &PriceHandler{
		prices:  prices,
		manager: manager,
		state:   st,
	}
}

// Mark fetches the price for symbol, publishes it and runs the position
// state machine against it. A failed evaluation still returns the price.
func (h *PriceHandler) Mark(ctx context.Context, symbol string) (float64, error) {
	price, err := h.prices.LastPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	h.state.SetPrice(symbol, price)
	return price, h.manager.OnPrice(ctx, symbol, price)
}

// Close closes the position on symbol at the current price, or at the last
// scanned price when the exchange cannot be reached.
func (h *PriceHandler) Close(ctx context.Context, symbol, reason string) error {
	price, err := h.prices.LastPrice(ctx, symbol)
	if err != nil {
		last, ok := h.state.Price(symbol)
		if !ok {
			return err
		}
		price = last
	}
	h.state.SetPrice(symbol, price)
	return h.manager.Close(ctx, symbol, price, reason)
}

// CloseAll closes every open position at market.
func (h *PriceHandler) CloseAll(ctx context.Context, reason string) (int, []error) {
	return h.manager.CloseAll(ctx, h.prices, reason)
}
