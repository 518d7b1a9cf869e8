package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrTradeNotOpen is returned when closing a trade that is already final.
var ErrTradeNotOpen = errors.New("trade is not open")

type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Create(trade *models.Trade) error {
	if trade == nil {
		return errors.New("trade cannot be nil")
	}
	if trade.ID == "" {
		return errors.New("trade has no id")
	}
	return r.db.Create(trade).Error
}

// FindByID retrieves a Trade record by its ID
func (r *TradeRepository) FindByID(id string) (*models.Trade, error) {
	if id == "" {
		return nil, errors.New("invalid id")
	}
	var trade models.Trade
	err := r.db.Where("id = ?", id).First(&trade).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

// Finalize moves an OPEN trade to CLOSED or CANCELLED. Final trades are never
// rewritten.
func (r *TradeRepository) Finalize(id, status string, exitPrice float64, exitTime time.Time, pnl, pnlPct float64, reason string) error {
	if status != models.TradeStatusClosed && status != models.TradeStatusCancelled {
		return errors.New("invalid final status " + status)
	}
	res := r.db.Model(&models.Trade{}).
		Where("id = ? AND status = ?", id, models.TradeStatusOpen).
		Updates(map[string]interface{}{
			"status":     status,
			"exit_price": exitPrice,
			"exit_time":  exitTime,
			"pnl_usd":    pnl,
			"pnl_pct":    pnlPct,
			"reason":     reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTradeNotOpen
	}
	return nil
}

// FindOpenBySymbol returns OPEN trades for symbol, newest first.
func (r *TradeRepository) FindOpenBySymbol(symbol string) ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("symbol = ? AND status = ?", symbol, models.TradeStatusOpen).
		Order("entry_time DESC").
		Find(&trades).Error
	return trades, err
}

// FindRecent returns up to limit trades, newest first, optionally for one symbol.
func (r *TradeRepository) FindRecent(symbol string, limit int) ([]models.Trade, error) {
	q := r.db.Order("entry_time DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var trades []models.Trade
	err := q.Find(&trades).Error
	return trades, err
}

// FindClosed returns every finalized trade in entry order.
func (r *TradeRepository) FindClosed() ([]models.Trade, error) {
	var trades []models.Trade
	err := r.db.Where("status = ?", models.TradeStatusClosed).
		Order("entry_time ASC").
		Find(&trades).Error
	return trades, err
}
