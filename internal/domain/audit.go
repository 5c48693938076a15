package domain

import "time"

// AuditEntry is the durable trail for operator and auto-blocker actions.
// Block, unblock, revoke and rebind always write one.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Actor     string    `gorm:"size:128;not null" json:"actor"`
	Action    string    `gorm:"size:64;index;not null" json:"action"`
	Subject   string    `gorm:"size:256;not null" json:"subject"`
	Reason    string    `gorm:"size:512" json:"reason"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
