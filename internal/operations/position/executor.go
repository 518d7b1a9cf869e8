package position

import (
	"FlipTradeBot/internal/models"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Fill is the outcome of one order.
type Fill struct {
	Price    float64
	Quantity float64
}

// Executor turns position decisions into orders.
type Executor interface {
	// Open enters side with notional USD of exposure.
	Open(ctx context.Context, symbol, side string, notional float64, leverage int, refPrice float64) (Fill, error)
	// Close reduces a position on side by qty.
	Close(ctx context.Context, symbol, side string, qty, refPrice float64) (Fill, error)
}

// PaperExecutor fills every order at the reference price.
type PaperExecutor struct{}

func (PaperExecutor) Open(_ context.Context, symbol, side string, notional float64, _ int, refPrice float64) (Fill, error) {
	if refPrice <= 0 {
		return Fill{}, fmt.Errorf("paper open %s: invalid price %v", symbol, refPrice)
	}
	return Fill{Price: refPrice, Quantity: notional / refPrice}, nil
}

func (PaperExecutor) Close(_ context.Context, symbol, side string, qty, refPrice float64) (Fill, error) {
	if refPrice <= 0 {
		return Fill{}, fmt.Errorf("paper close %s: invalid price %v", symbol, refPrice)
	}
	return Fill{Price: refPrice, Quantity: qty}, nil
}

// StopKeeper is implemented by executors that can rest a protective stop
// order on the exchange, so a position stays guarded between scans and while
// the process is down.
type StopKeeper interface {
	PlaceStop(ctx context.Context, symbol, side string, stop float64) (int64, error)
	CancelStop(ctx context.Context, symbol string, orderID int64) error
}

// OrderPlacer is the part of the exchange client live trading needs.
type OrderPlacer interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	QuantityFor(ctx context.Context, symbol string, notional, price float64) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (float64, float64, error)
	PlaceStopMarket(ctx context.Context, symbol string, buy bool, stopPrice float64) (int64, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// LiveExecutor sends market orders to the exchange.
type LiveExecutor struct {
	exchange OrderPlacer
}

func NewLiveExecutor(exchange OrderPlacer) *LiveExecutor {
	return &LiveExecutor{exchange: exchange}
}

func (e *LiveExecutor) Open(ctx context.Context, symbol, side string, notional float64, leverage int, refPrice float64) (Fill, error) {
	if err := e.exchange.SetLeverage(ctx, symbol, leverage); err != nil {
		// the account may already be at this leverage
		log.WithField("symbol", symbol).WithError(err).Warn("set leverage failed, continuing")
	}
	qty, err := e.exchange.QuantityFor(ctx, symbol, notional, refPrice)
	if err != nil {
		return Fill{}, err
	}
	price, filled, err := e.exchange.PlaceMarketOrder(ctx, symbol, side == models.SideLong, qty, false)
	if err != nil {
		return Fill{}, err
	}
	if price <= 0 {
		price = refPrice
	}
	return Fill{Price: price, Quantity: filled}, nil
}

// Close sends a reduce-only order. The fill carries the quantity the exchange
// executed, which may be less than qty after lot rounding. A position the
// exchange already closed, by a resting stop for instance, fills at refPrice.
func (e *LiveExecutor) Close(ctx context.Context, symbol, side string, qty, refPrice float64) (Fill, error) {
	if qty <= 0 {
		return Fill{}, errors.New("close quantity must be positive")
	}
	price, filled, err := e.exchange.PlaceMarketOrder(ctx, symbol, side != models.SideLong, qty, true)
	if errors.Is(err, models.ErrNothingToReduce) {
		log.WithField("symbol", symbol).Warn("exchange position already flat, booking close at reference price")
		return Fill{Price: refPrice, Quantity: qty}, nil
	}
	if err != nil {
		return Fill{}, err
	}
	if price <= 0 {
		price = refPrice
	}
	log.WithFields(logrus.Fields{"symbol": symbol, "qty": filled, "price": price}).Debug("reduce-only fill")
	return Fill{Price: price, Quantity: filled}, nil
}

// PlaceStop rests a close-position stop on the side opposite the position.
func (e *LiveExecutor) PlaceStop(ctx context.Context, symbol, side string, stop float64) (int64, error) {
	return e.exchange.PlaceStopMarket(ctx, symbol, side != models.SideLong, stop)
}

func (e *LiveExecutor) CancelStop(ctx context.Context, symbol string, orderID int64) error {
	if orderID == 0 {
		return nil
	}
	return e.exchange.CancelOrder(ctx, symbol, orderID)
}
