package strategy

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"math"
	"testing"
	"time"
)

func bar(trend models.Trend, at time.Time) models.SmoothedCandle {
	return models.SmoothedCandle{OpenTime: at, Trend: trend}
}

func TestDetectFlip(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(4 * time.Hour)
	trends := []models.Trend{models.TrendBullish, models.TrendBearish}

	for _, ta := range trends {
		for _, tb := range trends {
			sig := DetectFlip("BTCUSDT", bar(ta, a), bar(tb, b))
			if ta == tb {
				if sig != nil {
					t.Fatalf("%s->%s: unexpected signal %+v", ta, tb, sig)
				}
				continue
			}
			if sig == nil {
				t.Fatalf("%s->%s: expected a signal", ta, tb)
			}
			if sig.Direction != tb || !sig.Timestamp.Equal(b) || sig.Symbol != "BTCUSDT" {
				t.Fatalf("%s->%s: wrong signal %+v", ta, tb, sig)
			}
		}
	}
}

func TestDetectFlipSeriesNeedsTwoBars(t *testing.T) {
	if DetectFlipSeries("X", []models.SmoothedCandle{{Trend: models.TrendBullish}}) != nil {
		t.Fatal("single bar must not flip")
	}
}

func TestComputeTargetsDirectionAware(t *testing.T) {
	cfg := config.Default().Trading

	long := ComputeTargets(models.SideLong, 100, 2, cfg)
	if long.StopLoss != 96 {
		t.Fatalf("long stop = %v, want 96", long.StopLoss)
	}
	short := ComputeTargets(models.SideShort, 100, 2, cfg)
	if short.StopLoss != 104 {
		t.Fatalf("short stop = %v, want 104", short.StopLoss)
	}
	for i := 1; i < models.LadderSize; i++ {
		if long.TakeProfits[i] <= long.TakeProfits[i-1] {
			t.Fatalf("long ladder not ascending at %d", i)
		}
		if short.TakeProfits[i] >= short.TakeProfits[i-1] {
			t.Fatalf("short ladder not descending at %d", i)
		}
	}
	if long.TakeProfits[0] != 103 {
		t.Fatalf("TP1 = %v, want 103", long.TakeProfits[0])
	}
}

func TestComputeTargetsFallsBackWithoutATR(t *testing.T) {
	cfg := config.Default().Trading
	got := ComputeTargets(models.SideLong, 200, 0, cfg)
	if math.Abs(got.StopLoss-195) > 1e-9 {
		t.Fatalf("fallback stop = %v, want 195", got.StopLoss)
	}
}

func candles(closes []float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	for i, c := range closes {
		out[i] = models.Candle{Close: c}
	}
	return out
}

func TestRSIEMAFilter(t *testing.T) {
	m, err := NewStrategyManager(config.StrategyRSIEMA)
	if err != nil {
		t.Fatal(err)
	}
	var rising, falling []float64
	for i := 0; i < 40; i++ {
		rising = append(rising, 100+float64(i))
		falling = append(falling, 100-float64(i))
	}

	if d := m.Allow(models.SideLong, candles(rising)); !d.Allowed {
		t.Fatalf("long on a rising series rejected: %s", d.Reason)
	}
	if d := m.Allow(models.SideShort, candles(rising)); d.Allowed {
		t.Fatal("short on a rising series allowed")
	}
	if d := m.Allow(models.SideShort, candles(falling)); !d.Allowed {
		t.Fatalf("short on a falling series rejected: %s", d.Reason)
	}
	if d := m.Allow(models.SideLong, candles(rising[:5])); d.Allowed {
		t.Fatal("expected rejection with too little data")
	}
}

func TestBaseStrategyAllowsEverything(t *testing.T) {
	m, err := NewStrategyManager(config.StrategyBase)
	if err != nil {
		t.Fatal(err)
	}
	if !m.Allow(models.SideShort, nil).Allowed {
		t.Fatal("base strategy must not filter")
	}
	if _, err := NewStrategyManager("martingale"); err == nil {
		t.Fatal("expected unknown strategy error")
	}
}
