package models

import (
	"errors"
	"time"
)

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
)

func (t Trend) Valid() bool {
	return t == TrendBullish || t == TrendBearish
}

// Side maps a trend onto the position side that follows it.
func (t Trend) Side() string {
	if t == TrendBullish {
		return SideLong
	}
	return SideShort
}

// SmoothedCandle is a derived Heikin-Ashi bar. It is never persisted on its
// own; the newest one is carried in HAState as the recurrence seed.
type SmoothedCandle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Trend    Trend     `json:"trend"`
}

// FlipSignal is emitted when the two newest completed smoothed bars disagree.
type FlipSignal struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Direction Trend     `json:"direction"`
}

// HAState is the per-symbol recorded trend plus the last smoothed bar.
type HAState struct {
	Symbol       string    `gorm:"primaryKey" json:"symbol"`
	LastTrend    Trend     `gorm:"not null" json:"last_trend"`
	PendingTrend Trend     `json:"pending_trend,omitempty"`
	LastUpdate   time.Time `gorm:"index;not null" json:"last_update"`

	// the seed feeds the recurrence, so it is stored at full precision
	SeedOpenTime time.Time `json:"seed_open_time"`
	SeedOpen     float64   `gorm:"type:double precision" json:"seed_open"`
	SeedHigh     float64   `gorm:"type:double precision" json:"seed_high"`
	SeedLow      float64   `gorm:"type:double precision" json:"seed_low"`
	SeedClose    float64   `gorm:"type:double precision" json:"seed_close"`
	SeedTrend    Trend     `json:"seed_trend,omitempty"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}

func (HAState) TableName() string {
	return "ha_states"
}

// Seed returns the carried smoothed bar, or nil when none was stored.
func (s HAState) Seed() *SmoothedCandle {
	if s.SeedOpenTime.IsZero() {
		return nil
	}
	trend := s.SeedTrend
	if !trend.Valid() {
		trend = TrendBearish
		if s.SeedClose > s.SeedOpen {
			trend = TrendBullish
		}
	}
	return &SmoothedCandle{
		OpenTime: s.SeedOpenTime,
		Open:     s.SeedOpen,
		High:     s.SeedHigh,
		Low:      s.SeedLow,
		Close:    s.SeedClose,
		Trend:    trend,
	}
}

func (s *HAState) SetSeed(bar SmoothedCandle) {
	s.SeedOpenTime = bar.OpenTime
	s.SeedOpen = bar.Open
	s.SeedHigh = bar.High
	s.SeedLow = bar.Low
	s.SeedClose = bar.Close
	s.SeedTrend = bar.Trend
}

func (s HAState) Validate() error {
	if s.Symbol == "" {
		return errors.New("ha state: empty symbol")
	}
	if !s.LastTrend.Valid() {
		return errors.New("ha state: invalid trend " + string(s.LastTrend))
	}
	if s.PendingTrend != "" && !s.PendingTrend.Valid() {
		return errors.New("ha state: invalid pending trend " + string(s.PendingTrend))
	}
	return nil
}
