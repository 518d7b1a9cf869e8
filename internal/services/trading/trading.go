package trading

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/repositories"
	"fmt"
	"math"
	"time"
)

// Ledger keeps the USDT account balance in step with realized trade results.
type Ledger struct {
	cfg config.TradingConfig
}

func NewLedger(cfg config.TradingConfig) *Ledger {
	return &Ledger{cfg: cfg}
}

// Ensure returns the account row, creating it with the starting capital on
// first use.
func (l *Ledger) Ensure(repos *repositories.Repositories) (*models.Balance, error) {
	balance, err := repos.Balances.FindByAsset(models.AssetUSDT)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	if balance != nil {
		return balance, nil
	}

	balance = &models.Balance{
		Asset:         models.AssetUSDT,
		Balance:       l.cfg.StartingCapital,
		StartBalance:  l.cfg.StartingCapital,
		NextTradeSize: l.cfg.TradeSizeUSD,
		LastUpdated:   time.Now().UTC(),
	}
	if err := repos.Balances.Create(balance); err != nil {
		return nil, fmt.Errorf("failed to create balance: %w", err)
	}
	deposit := &models.Transaction{
		Asset:        models.AssetUSDT,
		Type:         models.TransactionTypeDeposit,
		Amount:       l.cfg.StartingCapital,
		BalanceAfter: balance.Balance,
	}
	if err := repos.Transactions.Create(deposit); err != nil {
		return nil, fmt.Errorf("failed to record deposit: %w", err)
	}
	return balance, nil
}

// NextTradeSize is the margin for the next entry. Without compounding it is
// always the configured trade size.
func (l *Ledger) NextTradeSize(repos *repositories.Repositories) float64 {
	if !l.cfg.Compounding {
		return l.cfg.TradeSizeUSD
	}
	balance, err := repos.Balances.FindByAsset(models.AssetUSDT)
	if err != nil || balance == nil || balance.NextTradeSize <= 0 {
		return l.cfg.TradeSizeUSD
	}
	return balance.NextTradeSize
}

// ApplyClose books a closed trade's P&L. Call it inside the transaction that
// closes the trade.
func (l *Ledger) ApplyClose(tx *repositories.Repositories, tradeID string, pnl float64) (*models.Balance, error) {
	balance, err := l.Ensure(tx)
	if err != nil {
		return nil, err
	}

	balance.Balance += pnl
	balance.TotalPnL += pnl
	if pnl > 0 {
		balance.Wins++
	} else {
		balance.Losses++
	}
	if l.cfg.Compounding {
		balance.NextTradeSize = CompoundedSize(balance.NextTradeSize, pnl, l.cfg.TradeSizeUSD, balance.Balance)
	}

	if err := tx.Balances.Update(balance); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	entry := &models.Transaction{
		Asset:        models.AssetUSDT,
		TradeID:      tradeID,
		Type:         models.TransactionTypeTrade,
		Amount:       pnl,
		BalanceAfter: balance.Balance,
	}
	if err := tx.Transactions.Create(entry); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}
	return balance, nil
}

// CompoundedSize grows or shrinks the trade size by pnl, kept between floor
// and the account balance.
func CompoundedSize(current, pnl, floor, balance float64) float64 {
	next := current + pnl
	if balance > floor {
		next = math.Min(next, balance)
	}
	return math.Max(next, floor)
}
