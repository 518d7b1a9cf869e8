package strategy

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
)

// ComputeTargets places the stop ATR*SLATRMultiple away from entry and the ten
// take-profit levels at ascending ATR multiples, direction-aware.
func ComputeTargets(side string, entry, atr float64, cfg config.TradingConfig) Targets {
	if atr <= 0 {
		atr = FallbackATR(entry, cfg)
	}
	dir := 1.0
	if side == models.SideShort {
		dir = -1.0
	}

	var t Targets
	t.StopLoss = entry - dir*atr*cfg.SLATRMultiple
	for i, mult := range cfg.TPATRMultiples {
		t.TakeProfits[i] = entry + dir*atr*mult
	}
	if t.StopLoss <= 0 {
		t.StopLoss = entry * (1 - dir*cfg.SLPercentFallback)
	}
	return t
}

// FallbackATR is the ATR that puts the stop SLPercentFallback from entry.
// It is used when no ATR could be computed.
func FallbackATR(entry float64, cfg config.TradingConfig) float64 {
	if cfg.SLATRMultiple <= 0 {
		return entry * cfg.SLPercentFallback
	}
	return entry * cfg.SLPercentFallback / cfg.SLATRMultiple
}
