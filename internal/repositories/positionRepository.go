package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"

	"gorm.io/gorm"
)

type PositionRepository struct {
	db *gorm.DB
}

// NewPositionRepository creates a new instance of PositionRepository
func NewPositionRepository(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// Create adds a new Position record to the database
func (r *PositionRepository) Create(position *models.Position) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	return r.db.Create(position).Error
}

// Update modifies an existing Position record
func (r *PositionRepository) Update(position *models.Position) error {
	if position == nil {
		return errors.New("position cannot be nil")
	}
	if position.ID == 0 {
		return errors.New("position has no id")
	}
	return r.db.Save(position).Error
}

// DeleteBySymbol removes the open position for symbol
func (r *PositionRepository) DeleteBySymbol(symbol string) error {
	if symbol == "" {
		return errors.New("invalid symbol")
	}
	return r.db.Where("symbol = ?", symbol).Delete(&models.Position{}).Error
}

// FindBySymbol retrieves the open position for symbol, nil if there is none
func (r *PositionRepository) FindBySymbol(symbol string) (*models.Position, error) {
	if symbol == "" {
		return nil, errors.New("invalid symbol")
	}
	var position models.Position
	err := r.db.Where("symbol = ?", symbol).First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &position, nil
}

// FindAll retrieves all open Position records
func (r *PositionRepository) FindAll() ([]models.Position, error) {
	var positions []models.Position
	err := r.db.Order("symbol").Find(&positions).Error
	return positions, err
}
