package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CooldownRepository struct {
	db *gorm.DB
}

func NewCooldownRepository(db *gorm.DB) *CooldownRepository {
	return &CooldownRepository{db: db}
}

// Save writes the cooldown for a symbol, replacing any earlier one.
func (r *CooldownRepository) Save(cooldown *models.Cooldown) error {
	if cooldown == nil || cooldown.Symbol == "" {
		return errors.New("invalid cooldown")
	}
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(cooldown).Error
}

// FindActive returns cooldowns that have not expired at now.
func (r *CooldownRepository) FindActive(now time.Time) ([]models.Cooldown, error) {
	var cooldowns []models.Cooldown
	err := r.db.Where("until > ?", now).Find(&cooldowns).Error
	return cooldowns, err
}

func (r *CooldownRepository) DeleteExpired(now time.Time) error {
	return r.db.Where("until <= ?", now).Delete(&models.Cooldown{}).Error
}
