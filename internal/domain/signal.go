package domain

import "time"

// SignalKind names the abuse signals the detector consumes.
type SignalKind string

const (
	SignalFailedCredential SignalKind = "failed_credential"
	SignalHwidMismatch     SignalKind = "hwid_mismatch"
	SignalRateLimitBreach  SignalKind = "rate_limit_breach"
)

// AbuseSignal is one failure observation for a user. Every signal kind counts
// against the same rolling threshold.
type AbuseSignal struct {
	UserID     uint
	Kind       SignalKind
	ObservedAt time.Time
}
