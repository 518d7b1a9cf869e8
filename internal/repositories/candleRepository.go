package repositories

import (
	"FlipTradeBot/internal/models"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CandleRepository struct {
	db *gorm.DB
}

// NewCandleRepository creates a new instance of CandleRepository
func NewCandleRepository(db *gorm.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// Merge upserts candles by open time. An existing row for the same open time
// takes the newly fetched values.
func (r *CandleRepository) Merge(candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "time_frame"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"close_time", "open", "high", "low", "close", "volume"}),
	}).CreateInBatches(candles, 200).Error
}

// GetLatest returns the newest stored candle, or nil when the series is empty.
func (r *CandleRepository) GetLatest(symbol, timeframe string) (*models.Candle, error) {
	if symbol == "" {
		return nil, errors.New("invalid symbol")
	}
	var candle models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Order("open_time DESC").
		First(&candle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &candle, nil
}

// GetEarliest returns the oldest stored candle, or nil when the series is empty.
func (r *CandleRepository) GetEarliest(symbol, timeframe string) (*models.Candle, error) {
	var candle models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Order("open_time ASC").
		First(&candle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &candle, nil
}

// GetSeries returns up to limit of the newest candles in ascending order.
func (r *CandleRepository) GetSeries(symbol, timeframe string, limit int) ([]models.Candle, error) {
	var candles []models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Order("open_time DESC").
		Limit(limit).
		Find(&candles).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Count returns the number of stored candles in a series.
func (r *CandleRepository) Count(symbol, timeframe string) (int64, error) {
	var n int64
	err := r.db.Model(&models.Candle{}).
		Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Count(&n).Error
	return n, err
}

// Prune keeps only the newest keep candles of a series.
func (r *CandleRepository) Prune(symbol, timeframe string, keep int) error {
	if keep <= 0 {
		return nil
	}
	var cutoff []models.Candle
	err := r.db.Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Order("open_time DESC").
		Offset(keep - 1).
		Limit(1).
		Find(&cutoff).Error
	if err != nil || len(cutoff) == 0 {
		return err
	}
	return r.db.Where("symbol = ? AND time_frame = ? AND open_time < ?", symbol, timeframe, cutoff[0].OpenTime).
		Delete(&models.Candle{}).Error
}

// DeleteSeries drops a whole series so it can be rebuilt from the exchange.
func (r *CandleRepository) DeleteSeries(symbol, timeframe string) error {
	return r.db.Where("symbol = ? AND time_frame = ?", symbol, timeframe).
		Delete(&models.Candle{}).Error
}
