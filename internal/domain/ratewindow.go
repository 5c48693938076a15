package domain

import "time"

// RateWindow is the fixed-window counter row for one (identity, action)
// pair. There is a single row per pair; an expired window is reset in place
// inside the same row-locked transaction that would have closed it.
type RateWindow struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Identity    string    `gorm:"size:256;uniqueIndex:idx_rate_windows_identity_action;not null" json:"identity"`
	Action      string    `gorm:"size:64;uniqueIndex:idx_rate_windows_identity_action;not null" json:"action"`
	Count       int64     `gorm:"not null" json:"count"`
	WindowStart time.Time `gorm:"not null" json:"window_start"`
	WindowEnd   time.Time `gorm:"not null" json:"window_end"`
	UpdatedAt   time.Time `json:"updated_at"`
}
