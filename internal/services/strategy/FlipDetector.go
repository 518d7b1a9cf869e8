package strategy

import "FlipTradeBot/internal/models"

// DetectFlip compares the two newest completed smoothed bars. It returns a
// signal in the newer bar's direction when their trends differ, nil otherwise.
func DetectFlip(symbol string, a, b models.SmoothedCandle) *models.FlipSignal {
	if a.Trend == b.Trend {
		return nil
	}
	return &models.FlipSignal{
		Symbol:    symbol,
		Timestamp: b.OpenTime,
		Direction: b.Trend,
	}
}

// DetectFlipSeries applies DetectFlip to the tail of a completed series.
func DetectFlipSeries(symbol string, bars []models.SmoothedCandle) *models.FlipSignal {
	if len(bars) < 2 {
		return nil
	}
	return DetectFlip(symbol, bars[len(bars)-2], bars[len(bars)-1])
}
