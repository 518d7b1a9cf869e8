package models

import (
	"errors"
	"fmt"
	"time"
)

const LadderSize = 10

const (
	SideLong  = "LONG"
	SideShort = "SHORT"

	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitFinalTP      = "tp10"
	ExitFlip         = "flip"
	ExitEmergency    = "emergency"
	ExitManual       = "manual"
	ExitReconcile    = "reconcile"
	ExitEndOfTest    = "end_of_test"
)

// Position is the single open position a symbol may hold.
type Position struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	Symbol     string    `gorm:"uniqueIndex;not null" json:"symbol"`
	TradeID    string    `gorm:"index" json:"trade_id"`
	Strategy   string    `gorm:"not null;default:base" json:"strategy"`
	Side       string    `gorm:"not null" json:"side"`
	EntryPrice float64   `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	EntryTime  time.Time `gorm:"index;not null" json:"entry_time"`
	SizeUSD    float64   `gorm:"type:decimal(20,8);not null" json:"size_usd"`
	Leverage   int       `gorm:"not null" json:"leverage"`
	Quantity   float64   `gorm:"type:decimal(20,8);not null" json:"quantity"`
	Remaining  float64   `gorm:"type:decimal(20,8);not null" json:"remaining_qty"`
	ATR        float64   `gorm:"type:decimal(20,8)" json:"atr"`

	StopLoss    float64             `gorm:"type:decimal(20,8);not null" json:"stop_loss"`
	TakeProfits [LadderSize]float64 `gorm:"type:text;serializer:json" json:"take_profits"`
	TPHit       [LadderSize]bool    `gorm:"type:text;serializer:json" json:"tp_hit"`

	TrailingActive bool    `json:"trailing_stop_active"`
	TrailingStop   float64 `gorm:"type:decimal(20,8)" json:"trailing_stop_price"`

	RealizedPnL float64 `gorm:"type:decimal(20,8)" json:"realized_pnl"`

	// resting stop order on the exchange, 0 when none
	StopOrderID int64 `json:"stop_order_id,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (p *Position) IsLong() bool {
	return p.Side == SideLong
}

// Margin is the collateral committed to the position.
func (p *Position) Margin() float64 {
	if p.Leverage <= 0 {
		return p.SizeUSD
	}
	return p.SizeUSD / float64(p.Leverage)
}

// PnLFor returns the USD result of closing qty at price.
func (p *Position) PnLFor(qty, price float64) float64 {
	if p.IsLong() {
		return (price - p.EntryPrice) * qty
	}
	return (p.EntryPrice - price) * qty
}

// UnrealizedPnL includes partial exits already taken.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return p.RealizedPnL + p.PnLFor(p.Remaining, price)
}

// HitCount is the number of ladder levels already taken.
func (p *Position) HitCount() int {
	n := 0
	for _, hit := range p.TPHit {
		if hit {
			n++
		}
	}
	return n
}

// Reached reports whether price has touched ladder level i.
func (p *Position) Reached(i int, price float64) bool {
	if p.IsLong() {
		return price >= p.TakeProfits[i]
	}
	return price <= p.TakeProfits[i]
}

// ActiveStop is the effective stop level and the exit reason it would carry.
// The trailing stop wins when it is the tighter of the two.
func (p *Position) ActiveStop() (float64, string) {
	if p.TrailingActive && p.tighter(p.TrailingStop, p.StopLoss) {
		return p.TrailingStop, ExitTrailingStop
	}
	return p.StopLoss, ExitStopLoss
}

// StopBreached returns the exit price and reason when price crosses the
// effective stop.
func (p *Position) StopBreached(price float64) (bool, float64, string) {
	stop, reason := p.ActiveStop()
	if p.IsLong() && price <= stop {
		return true, stop, reason
	}
	if !p.IsLong() && price >= stop {
		return true, stop, reason
	}
	return false, 0, ""
}

func (p *Position) tighter(a, b float64) bool {
	if p.IsLong() {
		return a > b
	}
	return a < b
}

// MarkTakeProfit flags ladder level i. Levels are taken strictly in order.
func (p *Position) MarkTakeProfit(i int) error {
	if i < 0 || i >= LadderSize {
		return fmt.Errorf("position %s: ladder index %d out of range", p.Symbol, i)
	}
	if p.TPHit[i] {
		return fmt.Errorf("position %s: TP%d already hit", p.Symbol, i+1)
	}
	if i > 0 && !p.TPHit[i-1] {
		return fmt.Errorf("position %s: TP%d before TP%d", p.Symbol, i+1, i)
	}
	p.TPHit[i] = true
	return nil
}

// ActivateTrailing starts the trailing stop after TP1 at break-even or
// offset behind price, whichever locks in more.
func (p *Position) ActivateTrailing(price, offsetPct float64) error {
	if !p.TPHit[0] {
		return fmt.Errorf("position %s: trailing stop requires TP1", p.Symbol)
	}
	level := TrailLevel(p.Side, price, offsetPct)
	if !p.tighter(level, p.EntryPrice) {
		level = p.EntryPrice
	}
	if p.TrailingActive {
		p.RaiseTrailingStop(level)
		return nil
	}
	p.TrailingActive = true
	p.TrailingStop = level
	return nil
}

// RaiseTrailingStop moves the trailing stop to level if that is in the
// position's favour. It reports whether the stop moved.
func (p *Position) RaiseTrailingStop(level float64) bool {
	if !p.TrailingActive || !p.tighter(level, p.TrailingStop) {
		return false
	}
	p.TrailingStop = level
	return true
}

// TrailLevel is the stop offsetPct behind price for a side.
func TrailLevel(side string, price, offsetPct float64) float64 {
	if side == SideLong {
		return price * (1 - offsetPct)
	}
	return price * (1 + offsetPct)
}

func (p *Position) Validate() error {
	if p.Symbol == "" {
		return errors.New("position: empty symbol")
	}
	if p.Side != SideLong && p.Side != SideShort {
		return fmt.Errorf("position %s: invalid side %q", p.Symbol, p.Side)
	}
	if p.EntryPrice <= 0 || p.StopLoss <= 0 {
		return fmt.Errorf("position %s: entry and stop must be positive", p.Symbol)
	}
	for i := 1; i < LadderSize; i++ {
		if p.TPHit[i] && !p.TPHit[i-1] {
			return fmt.Errorf("position %s: TP%d hit without TP%d", p.Symbol, i+1, i)
		}
	}
	if p.TrailingActive && !p.TPHit[0] {
		return fmt.Errorf("position %s: trailing active before TP1", p.Symbol)
	}
	return nil
}
