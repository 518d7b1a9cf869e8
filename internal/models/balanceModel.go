package models

import (
	"time"
)

const AssetUSDT = "USDT"

type Balance struct {
	ID            uint    `gorm:"primaryKey" json:"-"`
	Asset         string  `gorm:"uniqueIndex;not null" json:"asset"`
	Balance       float64 `gorm:"type:decimal(20,8);not null" json:"balance"`
	StartBalance  float64 `gorm:"type:decimal(20,8);not null" json:"start_balance"`
	TotalPnL      float64 `gorm:"type:decimal(20,8)" json:"total_pnl"`
	NextTradeSize float64 `gorm:"type:decimal(20,8)" json:"next_trade_size"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`

	LastUpdated time.Time `gorm:"index;not null" json:"last_updated"`
}

// Transaction is one ledger movement against a Balance.
type Transaction struct {
	ID           uint    `gorm:"primaryKey" json:"id"`
	Asset        string  `gorm:"index;not null" json:"asset"`
	TradeID      string  `gorm:"index" json:"trade_id,omitempty"`
	Type         string  `gorm:"not null" json:"type"`
	Amount       float64 `gorm:"type:decimal(20,8);not null" json:"amount"`
	BalanceAfter float64 `gorm:"type:decimal(20,8);not null" json:"balance_after"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

const (
	TransactionTypeDeposit = "deposit"
	TransactionTypeTrade   = "trade"
)

func (b Balance) WinRate() float64 {
	total := b.Wins + b.Losses
	if total == 0 {
		return 0
	}
	return float64(b.Wins) / float64(total) * 100
}
