package domain

import "time"

// BindingActor identifies who caused a change to the current binding.
type BindingActor string

const (
	ActorSelf     BindingActor = "self"
	ActorOperator BindingActor = "operator"
)

// BindingOutcome is the result of a bind-or-verify attempt.
type BindingOutcome string

const (
	BindingBound            BindingOutcome = "bound"
	BindingVerified         BindingOutcome = "verified"
	BindingRebound          BindingOutcome = "rebound"
	BindingRejectedMismatch BindingOutcome = "rejected_mismatch"
	BindingRejectedConflict BindingOutcome = "rejected_conflict"
)

// HardwareBinding is the current fingerprint bound for a (user, product)
// pair. The unique index makes a racing first bind fail instead of silently
// overwriting the winner.
type HardwareBinding struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"uniqueIndex:idx_bindings_user_product;not null" json:"user_id"`
	ProductID   uint      `gorm:"uniqueIndex:idx_bindings_user_product;not null" json:"product_id"`
	Fingerprint string    `gorm:"size:256;not null" json:"fingerprint"`
	BoundAt     time.Time `gorm:"not null" json:"bound_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// BindingChange is the append-only history of binding mutations. Exactly one
// row is written in the same transaction as every current-binding change.
type BindingChange struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	UserID         uint         `gorm:"index:idx_binding_changes_user_product;not null" json:"user_id"`
	ProductID      uint         `gorm:"index:idx_binding_changes_user_product;not null" json:"product_id"`
	OldFingerprint *string      `gorm:"size:256" json:"old_fingerprint,omitempty"`
	NewFingerprint string       `gorm:"size:256;not null" json:"new_fingerprint"`
	Actor          BindingActor `gorm:"size:16;not null" json:"actor"`
	ChangedAt      time.Time    `gorm:"index;not null" json:"changed_at"`
}
