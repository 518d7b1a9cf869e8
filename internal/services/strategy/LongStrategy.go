package strategy

import (
	"FlipTradeBot/internal/services/indicators"
	"fmt"
)

// LongStrategy requires momentum above the midline and price above its EMA.
type LongStrategy struct {
	rsiPeriod    int
	emaPeriod    int
	rsiThreshold float64

	rsi *indicators.RSIService
	ema *indicators.EMAService
}

func NewLongStrategy() *LongStrategy {
	return &LongStrategy{
		rsiPeriod:    14,
		emaPeriod:    20,
		rsiThreshold: 50,
		rsi:          indicators.NewRSIService(),
		ema:          indicators.NewEMAService(),
	}
}

func (s *LongStrategy) Analyze(closes []float64) EntryDecision {
	rsi, ok := s.rsi.Latest(closes, s.rsiPeriod)
	if !ok {
		return reject("not enough data for RSI")
	}
	ema, ok := s.ema.Latest(closes, s.emaPeriod)
	if !ok {
		return reject("not enough data for EMA")
	}
	last := closes[len(closes)-1]

	if rsi <= s.rsiThreshold {
		return reject(fmt.Sprintf("RSI %.1f not above %.0f", rsi, s.rsiThreshold))
	}
	if last <= ema {
		return reject(fmt.Sprintf("close %.4f not above EMA%d %.4f", last, s.emaPeriod, ema))
	}
	return allow()
}
