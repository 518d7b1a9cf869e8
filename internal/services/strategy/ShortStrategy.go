package strategy

import (
	"FlipTradeBot/internal/services/indicators"
	"fmt"
)

// ShortStrategy mirrors LongStrategy.
type ShortStrategy struct {
	rsiPeriod    int
	emaPeriod    int
	rsiThreshold float64

	rsi *indicators.RSIService
	ema *indicators.EMAService
}

func NewShortStrategy() *ShortStrategy {
	return &ShortStrategy{
		rsiPeriod:    14,
		emaPeriod:    20,
		rsiThreshold: 50,
		rsi:          indicators.NewRSIService(),
		ema:          indicators.NewEMAService(),
	}
}

func (s *ShortStrategy) Analyze(closes []float64) EntryDecision {
	rsi, ok := s.rsi.Latest(closes, s.rsiPeriod)
	if !ok {
		return reject("not enough data for RSI")
	}
	ema, ok := s.ema.Latest(closes, s.emaPeriod)
	if !ok {
		return reject("not enough data for EMA")
	}
	last := closes[len(closes)-1]

	if rsi >= s.rsiThreshold {
		return reject(fmt.Sprintf("RSI %.1f not below %.0f", rsi, s.rsiThreshold))
	}
	if last >= ema {
		return reject(fmt.Sprintf("close %.4f not below EMA%d %.4f", last, s.emaPeriod, ema))
	}
	return allow()
}
