package domain

import "time"

type User struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	Email          string     `gorm:"size:320;uniqueIndex;not null" json:"email"`
	CredentialHash string     `gorm:"size:128;not null" json:"-"`
	Blocked        bool       `gorm:"index;not null;default:false" json:"blocked"`
	BlockedReason  *string    `gorm:"size:128" json:"blocked_reason,omitempty"`
	BlockedAt      *time.Time `json:"blocked_at,omitempty"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
