package domain

import "time"

// Session invalidation reasons, kept for audit only; every terminal state is
// equally unusable.
const (
	SessionReasonLogout  = "logout"
	SessionReasonExpired = "expired"
	SessionReasonStale   = "stale_fingerprint"
	SessionReasonRebound = "hardware_rebound"
	SessionReasonBlocked = "user_blocked"
	SessionReasonRevoked = "operator_revoked"
)

// Session stores only the peppered hash of the opaque token handed to the
// client. Fingerprint is the binding value in effect at issuance; a rebind
// makes it stale.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	TokenHash     string     `gorm:"size:128;uniqueIndex;not null" json:"-"`
	UserID        uint       `gorm:"index:idx_sessions_user_product;not null" json:"user_id"`
	ProductID     uint       `gorm:"index:idx_sessions_user_product;not null" json:"product_id"`
	Fingerprint   string     `gorm:"size:256;not null" json:"fingerprint"`
	IP            string     `gorm:"size:64" json:"ip"`
	Valid         bool       `gorm:"index;not null;default:true" json:"valid"`
	InvalidReason *string    `gorm:"size:64" json:"invalid_reason,omitempty"`
	IssuedAt      time.Time  `gorm:"not null" json:"issued_at"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}
