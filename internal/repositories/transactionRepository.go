package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new instance of TransactionRepository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create adds a new Transaction record to the database
func (r *TransactionRepository) Create(transaction *models.Transaction) error {
	if transaction == nil {
		return errors.New("transaction cannot be nil")
	}
	return r.db.Create(transaction).Error
}

// FindRecent returns the newest ledger movements for an asset
func (r *TransactionRepository) FindRecent(asset string, limit int) ([]models.Transaction, error) {
	var transactions []models.Transaction
	q := r.db.Where("asset = ?", asset).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&transactions).Error
	return transactions, err
}
