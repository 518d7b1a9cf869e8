package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"
	"time"

	"gorm.io/gorm"
)

type BalanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a new instance of BalanceRepository
func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

// Create adds a new Balance record to the database
func (r *BalanceRepository) Create(balance *models.Balance) error {
	if balance == nil {
		return errors.New("balance cannot be nil")
	}
	return r.db.Create(balance).Error
}

// Update modifies an existing Balance record
func (r *BalanceRepository) Update(balance *models.Balance) error {
	if balance == nil {
		return errors.New("balance cannot be nil")
	}
	balance.LastUpdated = time.Now().UTC()
	return r.db.Save(balance).Error
}

// FindByAsset retrieves the Balance for an asset, nil if it does not exist
func (r *BalanceRepository) FindByAsset(asset string) (*models.Balance, error) {
	if asset == "" {
		return nil, errors.New("invalid asset")
	}
	var balance models.Balance
	err := r.db.Where("asset = ?", asset).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}
