package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type HAStateRepository struct {
	db *gorm.DB
}

func NewHAStateRepository(db *gorm.DB) *HAStateRepository {
	return &HAStateRepository{db: db}
}

// Find returns the recorded state for symbol, nil when none exists. A row that
// fails validation is reported as a PersistenceError.
func (r *HAStateRepository) Find(symbol string) (*models.HAState, error) {
	if symbol == "" {
		return nil, errors.New("invalid symbol")
	}
	var state models.HAState
	err := r.db.Where("symbol = ?", symbol).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "ha_state", Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &models.PersistenceError{Symbol: symbol, Kind: "ha_state", Err: err}
	}
	return &state, nil
}

// Save inserts or replaces the state row.
func (r *HAStateRepository) Save(state *models.HAState) error {
	if state == nil {
		return errors.New("ha state cannot be nil")
	}
	if err := state.Validate(); err != nil {
		return err
	}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
}

func (r *HAStateRepository) Delete(symbol string) error {
	return r.db.Where("symbol = ?", symbol).Delete(&models.HAState{}).Error
}

// FindAll returns every row that passes validation; invalid ones are skipped
// and returned as errors so the caller can log them.
func (r *HAStateRepository) FindAll() ([]models.HAState, []error, error) {
	var rows []models.HAState
	if err := r.db.Order("symbol").Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	valid := rows[:0]
	var bad []error
	for _, s := range rows {
		if err := s.Validate(); err != nil {
			bad = append(bad, &models.PersistenceError{Symbol: s.Symbol, Kind: "ha_state", Err: err})
			continue
		}
		valid = append(valid, s)
	}
	return valid, bad, nil
}
