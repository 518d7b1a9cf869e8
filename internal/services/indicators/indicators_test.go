package indicators

import (
	"FlipTradeBot/internal/models"
	"math"
	"reflect"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candle(i int, o, h, l, c float64) models.Candle {
	return models.Candle{
		Symbol:    "BTCUSDT",
		TimeFrame: models.TimeFrame4h,
		OpenTime:  t0.Add(time.Duration(i) * 4 * time.Hour),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSmoothCandleRecurrence(t *testing.T) {
	candles := []models.Candle{
		candle(0, 100, 101, 94, 95),
		candle(1, 95, 96, 90, 91),
		candle(2, 91, 110, 90, 108),
	}
	bars := HeikinAshi(candles, nil)

	want := []struct {
		open, close, high, low float64
		trend                  models.Trend
	}{
		{97.5, 97.5, 101, 94, models.TrendBearish},
		{97.5, 93, 97.5, 90, models.TrendBearish},
		{95.25, 99.75, 110, 90, models.TrendBullish},
	}
	for i, w := range want {
		b := bars[i]
		if !almostEqual(b.Open, w.open) || !almostEqual(b.Close, w.close) ||
			!almostEqual(b.High, w.high) || !almostEqual(b.Low, w.low) || b.Trend != w.trend {
			t.Fatalf("bar %d: got %+v want %+v", i, b, w)
		}
	}
}

func TestFlatBarIsBearish(t *testing.T) {
	if TrendOf(10, 10) != models.TrendBearish {
		t.Fatal("equal open and close must be bearish")
	}
}

func TestHeikinAshiIsDeterministic(t *testing.T) {
	var candles []models.Candle
	p := 100.0
	for i := 0; i < 50; i++ {
		step := math.Sin(float64(i)) * 3
		candles = append(candles, candle(i, p, p+4, p-4, p+step))
		p += step
	}
	seed := &models.SmoothedCandle{OpenTime: t0.Add(-4 * time.Hour), Open: 99, Close: 101, High: 102, Low: 98}

	first := HeikinAshi(candles, seed)
	second := HeikinAshi(candles, seed)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("recomputation with the same seed differs")
	}
}

func TestResumeMatchesFullRecompute(t *testing.T) {
	candles := []models.Candle{
		candle(0, 100, 101, 94, 95),
		candle(1, 95, 96, 90, 91),
		candle(2, 91, 110, 90, 108),
		candle(3, 108, 112, 105, 111),
	}
	full := HeikinAshi(candles, nil)

	seed := full[1]
	bars, resumed := Resume(candles, &seed)
	if !resumed {
		t.Fatal("expected resume from seed")
	}
	if len(bars) != 3 {
		t.Fatalf("expected seed plus two bars, got %d", len(bars))
	}
	if !reflect.DeepEqual(bars, full[1:]) {
		t.Fatalf("resumed series differs\n got %+v\nwant %+v", bars, full[1:])
	}
}

func TestResumeWithoutMatchingSeedRecomputes(t *testing.T) {
	candles := []models.Candle{candle(5, 100, 101, 99, 100.5), candle(6, 100.5, 102, 100, 101)}
	seed := &models.SmoothedCandle{OpenTime: t0, Open: 1, Close: 2}
	bars, resumed := Resume(candles, seed)
	if resumed {
		t.Fatal("seed is not in the window, expected full recompute")
	}
	if !reflect.DeepEqual(bars, HeikinAshi(candles, nil)) {
		t.Fatal("fallback should equal a fresh computation")
	}
}

func TestATR(t *testing.T) {
	candles := []models.Candle{
		candle(0, 10, 12, 9, 11),  // tr 3
		candle(1, 11, 13, 10, 12), // tr max(3, 2, 1) = 3
		candle(2, 12, 12, 6, 7),   // tr max(6, 0, 6) = 6
		candle(3, 7, 10, 7, 9),    // tr max(3, 3, 0) = 3
	}

	got, err := ATR(candles, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got, 4) {
		t.Fatalf("ATR(3) = %v, want 4", got)
	}

	got, err = ATR(candles, 14)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(got, 3.75) {
		t.Fatalf("ATR over short history = %v, want 3.75", got)
	}

	if _, err := ATR(nil, 14); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestEMAAndRSI(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	ema, ok := NewEMAService().Latest(prices, 3)
	if !ok {
		t.Fatal("expected EMA value")
	}
	// a steady uptrend keeps EMA(3) exactly one step behind
	if !almostEqual(ema, 9) {
		t.Fatalf("EMA = %v, want 9", ema)
	}

	rsi, ok := NewRSIService().Latest(prices, 3)
	if !ok || rsi != 100 {
		t.Fatalf("RSI of a monotonic rise = %v, want 100", rsi)
	}
	if _, ok := NewRSIService().Latest(prices[:3], 3); ok {
		t.Fatal("expected not enough data")
	}
}
