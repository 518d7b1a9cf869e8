package strategy

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"fmt"
)

// EntryFilter decides whether a flip may open a position on a side.
type EntryFilter interface {
	Name() string
	Allow(side string, candles []models.Candle) EntryDecision
}

type StrategyManager struct {
	name  string
	long  *LongStrategy
	short *ShortStrategy
}

// NewStrategyManager returns the entry filter configured by name.
func NewStrategyManager(name string) (*StrategyManager, error) {
	switch name {
	case config.StrategyBase, "":
		return &StrategyManager{name: config.StrategyBase}, nil
	case config.StrategyRSIEMA:
		return &StrategyManager{
			name:  name,
			long:  NewLongStrategy(),
			short: NewShortStrategy(),
		}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func (m *StrategyManager) Name() string {
	return m.name
}

// Allow is permissive for the base strategy and delegates to the side's
// filter otherwise.
func (m *StrategyManager) Allow(side string, candles []models.Candle) EntryDecision {
	if m.long == nil || m.short == nil {
		return allow()
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	if side == models.SideLong {
		return m.long.Analyze(closes)
	}
	return m.short.Analyze(closes)
}
