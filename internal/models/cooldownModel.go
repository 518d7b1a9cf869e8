package models

import "time"

type Cooldown struct {
	Symbol    string    `gorm:"primaryKey" json:"symbol"`
	Until     time.Time `gorm:"index;not null" json:"until"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

// Active reports whether entries are still suppressed at now.
func (c Cooldown) Active(now time.Time) bool {
	return now.Before(c.Until)
}
