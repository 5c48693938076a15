package domain

import "time"

// License links one user to one product. Rows are never deleted; revocation
// and expiry flip Active so the full grant history stays queryable.
type License struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	Key           string     `gorm:"size:64;uniqueIndex;not null" json:"key"`
	UserID        uint       `gorm:"index:idx_licenses_user_product;not null" json:"user_id"`
	ProductID     uint       `gorm:"index:idx_licenses_user_product;not null" json:"product_id"`
	Active        bool       `gorm:"index;not null;default:true" json:"active"`
	ExpiresAt     *time.Time `gorm:"index" json:"expires_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:128" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the validity window has passed. A nil ExpiresAt is
// a perpetual license.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}
