package models

import "time"

// Trade is the journal row for one position. It is written OPEN on entry and
// becomes immutable once moved to CLOSED or CANCELLED.
type Trade struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	Symbol     string     `gorm:"index;not null" json:"symbol"`
	Strategy   string     `gorm:"not null;default:base" json:"strategy"`
	Side       string     `gorm:"not null" json:"side"`
	EntryPrice float64    `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	EntryTime  time.Time  `gorm:"index;not null" json:"entry_time"`
	ExitPrice  float64    `gorm:"type:decimal(20,8)" json:"exit_price"`
	ExitTime   *time.Time `gorm:"index" json:"exit_time,omitempty"`
	SizeUSD    float64    `gorm:"type:decimal(20,8);not null" json:"size_usd"`
	PnLUSD     float64    `gorm:"type:decimal(20,8)" json:"pnl_usd"`
	PnLPct     float64    `gorm:"type:decimal(20,8)" json:"pnl_pct"`
	Status     string     `gorm:"index;not null" json:"status"`
	Reason     string     `json:"reason,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

const (
	TradeStatusOpen      = "OPEN"
	TradeStatusClosed    = "CLOSED"
	TradeStatusCancelled = "CANCELLED"
)

func (t Trade) IsWin() bool {
	return t.Status == TradeStatusClosed && t.PnLUSD > 0
}
