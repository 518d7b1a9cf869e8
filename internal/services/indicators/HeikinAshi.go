package indicators

import (
	"FlipTradeBot/internal/models"
	"math"
)

// TrendOf classifies a smoothed bar. A flat bar is bearish.
func TrendOf(open, close float64) models.Trend {
	if close > open {
		return models.TrendBullish
	}
	return models.TrendBearish
}

// SmoothCandle applies one step of the Heikin-Ashi recurrence. prev is the
// smoothed bar before c, or nil for the first bar of a series.
func SmoothCandle(c models.Candle, prev *models.SmoothedCandle) models.SmoothedCandle {
	haClose := (c.Open + c.High + c.Low + c.Close) / 4
	haOpen := (c.Open + c.Close) / 2
	if prev != nil {
		haOpen = (prev.Open + prev.Close) / 2
	}
	return models.SmoothedCandle{
		OpenTime: c.OpenTime,
		Open:     haOpen,
		High:     math.Max(c.High, math.Max(haOpen, haClose)),
		Low:      math.Min(c.Low, math.Min(haOpen, haClose)),
		Close:    haClose,
		Trend:    TrendOf(haOpen, haClose),
	}
}

// HeikinAshi smooths an ordered candle series. seed is the smoothed bar
// immediately preceding candles[0], or nil to start from scratch.
func HeikinAshi(candles []models.Candle, seed *models.SmoothedCandle) []models.SmoothedCandle {
	out := make([]models.SmoothedCandle, 0, len(candles))
	prev := seed
	for _, c := range candles {
		bar := SmoothCandle(c, prev)
		out = append(out, bar)
		prev = &out[len(out)-1]
	}
	return out
}

// Resume continues a smoothed series from a carried seed. When the seed's bar
// is found in candles, the result starts with the seed followed by every newer
// bar and resumed is true. Otherwise the whole input is recomputed from
// scratch and resumed is false.
func Resume(candles []models.Candle, seed *models.SmoothedCandle) (bars []models.SmoothedCandle, resumed bool) {
	if seed != nil {
		for i := len(candles) - 1; i >= 0; i-- {
			if candles[i].OpenTime.Equal(seed.OpenTime) {
				s := *seed
				return append([]models.SmoothedCandle{s}, HeikinAshi(candles[i+1:], &s)...), true
			}
		}
	}
	return HeikinAshi(candles, nil), false
}
