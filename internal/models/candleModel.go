package models

import (
	"fmt"
	"math"
	"time"
)

// Candle is one raw exchange bar. Rows are unique per (symbol, timeframe, open_time).
type Candle struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	Symbol    string    `gorm:"uniqueIndex:idx_candle_key;not null" json:"symbol"`
	TimeFrame string    `gorm:"uniqueIndex:idx_candle_key;not null" json:"timeframe"`
	OpenTime  time.Time `gorm:"uniqueIndex:idx_candle_key;not null" json:"open_time"`
	CloseTime time.Time `gorm:"index" json:"close_time"`
	Open      float64   `gorm:"type:decimal(20,8)" json:"open"`
	High      float64   `gorm:"type:decimal(20,8)" json:"high"`
	Low       float64   `gorm:"type:decimal(20,8)" json:"low"`
	Close     float64   `gorm:"type:decimal(20,8)" json:"close"`
	Volume    float64   `gorm:"type:decimal(20,8)" json:"volume"`
}

const (
	TimeFrame5m  = "5m"
	TimeFrame15m = "15m"
	TimeFrame1h  = "1h"
	TimeFrame4h  = "4h"
)

var timeFrames = map[string]time.Duration{
	"1m":         time.Minute,
	"3m":         3 * time.Minute,
	TimeFrame5m:  5 * time.Minute,
	TimeFrame15m: 15 * time.Minute,
	"30m":        30 * time.Minute,
	TimeFrame1h:  time.Hour,
	"2h":         2 * time.Hour,
	TimeFrame4h:  4 * time.Hour,
	"6h":         6 * time.Hour,
	"8h":         8 * time.Hour,
	"12h":        12 * time.Hour,
	"1d":         24 * time.Hour,
}

// TableName sets the table name for Candle model
func (Candle) TableName() string {
	return "candles"
}

// TimeFrameDuration returns the bar length for an exchange interval string.
func TimeFrameDuration(tf string) (time.Duration, bool) {
	d, ok := timeFrames[tf]
	return d, ok
}

// IsCompleted reports whether the bar's close time has fully elapsed at now.
// A bar with an unknown timeframe is never completed.
func (c Candle) IsCompleted(now time.Time) bool {
	d, ok := TimeFrameDuration(c.TimeFrame)
	if !ok {
		return false
	}
	return !c.OpenTime.Add(d).After(now)
}

// Validate checks the bar is internally consistent.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("candle %s %s: non-finite or negative value", c.Symbol, c.OpenTime.Format(time.RFC3339))
		}
	}
	if c.High < c.Low || c.High < math.Max(c.Open, c.Close) || c.Low > math.Min(c.Open, c.Close) {
		return fmt.Errorf("candle %s %s: inconsistent OHLC %v/%v/%v/%v",
			c.Symbol, c.OpenTime.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close)
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("candle %s: missing open time", c.Symbol)
	}
	return nil
}
