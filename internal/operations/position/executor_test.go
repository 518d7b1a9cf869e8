package position

import (
	"FlipTradeBot/internal/models"
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
)

type order struct {
	symbol     string
	buy        bool
	qty        float64
	reduceOnly bool
}

type stopOrder struct {
	id    int64
	buy   bool
	price float64
}

// fakePlacer floors quantities to step and rejects those under min, like the
// exchange's LOT_SIZE filter.
type fakePlacer struct {
	step, min   float64
	leverageErr error
	flat        bool
	fillPrice   float64
	leverage    int

	orders    []order
	stops     []stopOrder
	cancelled []int64
	nextID    int64
}

func (f *fakePlacer) round(qty float64) (float64, error) {
	if f.step > 0 {
		qty = math.Floor(math.Round(qty*1e8)/(f.step*1e8)) * f.step
	}
	if qty < f.min || qty <= 0 {
		return 0, fmt.Errorf("quantity %v: %w", qty, models.ErrBelowMinQuantity)
	}
	return qty, nil
}

func (f *fakePlacer) SetLeverage(_ context.Context, _ string, leverage int) error {
	f.leverage = leverage
	return f.leverageErr
}

func (f *fakePlacer) QuantityFor(_ context.Context, _ string, notional, price float64) (float64, error) {
	return f.round(notional / price)
}

func (f *fakePlacer) PlaceMarketOrder(_ context.Context, symbol string, buy bool, qty float64, reduceOnly bool) (float64, float64, error) {
	q, err := f.round(qty)
	if err != nil {
		return 0, 0, err
	}
	if reduceOnly && f.flat {
		return 0, 0, fmt.Errorf("%s: %w", symbol, models.ErrNothingToReduce)
	}
	f.orders = append(f.orders, order{symbol, buy, q, reduceOnly})
	return f.fillPrice, q, nil
}

func (f *fakePlacer) PlaceStopMarket(_ context.Context, _ string, buy bool, stopPrice float64) (int64, error) {
	f.nextID++
	f.stops = append(f.stops, stopOrder{id: f.nextID, buy: buy, price: stopPrice})
	return f.nextID, nil
}

func (f *fakePlacer) CancelOrder(_ context.Context, _ string, orderID int64) error {
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func TestLiveExecutorOpenAndClose(t *testing.T) {
	ex := &fakePlacer{leverageErr: errors.New("no change"), fillPrice: 101}
	live := NewLiveExecutor(ex)

	fill, err := live.Open(context.Background(), "BTCUSDT", models.SideShort, 200, 5, 100)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if fill.Price != 101 || fill.Quantity != 2 {
		t.Errorf("fill = %+v", fill)
	}
	if ex.leverage != 5 {
		t.Errorf("leverage = %d", ex.leverage)
	}

	ex.fillPrice = 0
	fill, err = live.Close(context.Background(), "BTCUSDT", models.SideShort, 2, 99)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if fill.Price != 99 {
		t.Errorf("missing fill price should fall back to reference, got %v", fill.Price)
	}

	if len(ex.orders) != 2 {
		t.Fatalf("orders = %d", len(ex.orders))
	}
	if ex.orders[0].buy || ex.orders[0].reduceOnly {
		t.Errorf("short entry should be a plain sell: %+v", ex.orders[0])
	}
	if !ex.orders[1].buy || !ex.orders[1].reduceOnly {
		t.Errorf("short exit should be a reduce-only buy: %+v", ex.orders[1])
	}
}

func TestLiveExecutorReportsRoundedQuantity(t *testing.T) {
	ex := &fakePlacer{step: 0.01, min: 0.01, fillPrice: 3000}
	live := NewLiveExecutor(ex)

	fill, err := live.Close(context.Background(), "ETHUSDT", models.SideLong, 0.035, 3000)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(fill.Quantity-0.03) > 1e-12 {
		t.Fatalf("fill quantity = %v, want the 0.03 actually sent", fill.Quantity)
	}

	if _, err := live.Close(context.Background(), "ETHUSDT", models.SideLong, 0.004, 3000); !errors.Is(err, models.ErrBelowMinQuantity) {
		t.Fatalf("expected ErrBelowMinQuantity, got %v", err)
	}
}

func TestLiveExecutorFlatPositionClosesAtReference(t *testing.T) {
	ex := &fakePlacer{flat: true}
	live := NewLiveExecutor(ex)

	fill, err := live.Close(context.Background(), "ETHUSDT", models.SideLong, 0.05, 2950)
	if err != nil {
		t.Fatal(err)
	}
	if fill.Price != 2950 || fill.Quantity != 0.05 {
		t.Fatalf("fill = %+v", fill)
	}
}

func TestLiveExecutorStops(t *testing.T) {
	ex := &fakePlacer{}
	live := NewLiveExecutor(ex)

	id, err := live.PlaceStop(context.Background(), "ETHUSDT", models.SideLong, 2900)
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.stops) != 1 || ex.stops[0].buy || ex.stops[0].price != 2900 {
		t.Fatalf("long stop should be a sell at 2900: %+v", ex.stops)
	}
	if err := live.CancelStop(context.Background(), "ETHUSDT", 0); err != nil || len(ex.cancelled) != 0 {
		t.Fatalf("cancelling no order should be a no-op: %v %v", err, ex.cancelled)
	}
	if err := live.CancelStop(context.Background(), "ETHUSDT", id); err != nil || len(ex.cancelled) != 1 {
		t.Fatalf("cancel: %v %v", err, ex.cancelled)
	}
}

func TestLiveExecutorRejectsEmptyClose(t *testing.T) {
	live := NewLiveExecutor(&fakePlacer{})
	if _, err := live.Close(context.Background(), "BTCUSDT", models.SideLong, 0, 100); err == nil {
		t.Fatal("expected error")
	}
}

func TestPaperExecutor(t *testing.T) {
	var paper PaperExecutor
	fill, err := paper.Open(context.Background(), "ETHUSDT", models.SideLong, 50, 1, 25)
	if err != nil || fill.Quantity != 2 || fill.Price != 25 {
		t.Fatalf("open = %+v, %v", fill, err)
	}
	if _, err := paper.Close(context.Background(), "ETHUSDT", models.SideLong, 1, 0); err == nil {
		t.Fatal("expected error for zero price")
	}
}
