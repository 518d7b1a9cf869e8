package indicators

import (
	"FlipTradeBot/internal/models"
	"errors"
	"math"
)

// TrueRange of c given the previous bar. The first bar of a series uses its
// own range.
func TrueRange(c models.Candle, prev *models.Candle) float64 {
	tr := c.High - c.Low
	if prev == nil {
		return tr
	}
	return math.Max(tr, math.Max(math.Abs(c.High-prev.Close), math.Abs(c.Low-prev.Close)))
}

// ATR is the simple mean of the true range over the last period candles.
// Fewer candles average what is available.
func ATR(candles []models.Candle, period int) (float64, error) {
	if len(candles) == 0 {
		return 0, models.ErrNoCandles
	}
	if period <= 0 {
		return 0, errors.New("atr: period must be positive")
	}

	start := len(candles) - period
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for i := start; i < len(candles); i++ {
		var prev *models.Candle
		if i > 0 {
			prev = &candles[i-1]
		}
		sum += TrueRange(candles[i], prev)
	}
	return sum / float64(len(candles)-start), nil
}
