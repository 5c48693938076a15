package service

import (
	"context"
	"sync"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
)

// AbusePolicy is the rolling-window threshold for automatic blocking.
// Crossing it blocks the user; only an operator can undo that.
type AbusePolicy struct {
	Threshold int
	Window    time.Duration
}

func (p AbusePolicy) normalized() AbusePolicy {
	if p.Threshold <= 0 {
		p.Threshold = 5
	}
	if p.Window <= 0 {
		p.Window = 15 * time.Minute
	}
	return p
}

// Blocker is the single mutation the detector performs on the identity store.
type Blocker interface {
	AutoBlock(ctx context.Context, userID uint, reason string) error
}

// AbuseDetector consumes failure signals and blocks users that cross the
// threshold. Record may therefore have the side effect of blocking.
type AbuseDetector interface {
	Record(ctx context.Context, signal domain.AbuseSignal) error
	Reset(ctx context.Context, userID uint) error
}

const autoBlockReason = "abuse threshold exceeded"

// LocalAbuseDetector keeps the rolling window in process memory; suitable for
// single-node deployments and tests.
type LocalAbuseDetector struct {
	mu      sync.Mutex
	events  map[uint][]time.Time
	policy  AbusePolicy
	blocker Blocker
	now     func() time.Time
}

func NewLocalAbuseDetector(blocker Blocker, policy AbusePolicy) *LocalAbuseDetector {
	return &LocalAbuseDetector{
		events:  make(map[uint][]time.Time),
		policy:  policy.normalized(),
		blocker: blocker,
		now:     time.Now,
	}
}

func (d *LocalAbuseDetector) Record(ctx context.Context, signal domain.AbuseSignal) error {
	observability.RecordAbuseSignal(ctx, string(signal.Kind))
	at := signal.ObservedAt
	if at.IsZero() {
		at = d.now()
	}

	d.mu.Lock()
	cutoff := at.Add(-d.policy.Window)
	kept := d.events[signal.UserID][:0]
	for _, ts := range d.events[signal.UserID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, at)
	d.events[signal.UserID] = kept
	count := len(kept)
	if count >= d.policy.Threshold {
		delete(d.events, signal.UserID)
	}
	d.mu.Unlock()

	if count < d.policy.Threshold {
		return nil
	}
	observability.RecordAutoBlock(ctx)
	return d.blocker.AutoBlock(ctx, signal.UserID, autoBlockReason)
}

func (d *LocalAbuseDetector) Reset(_ context.Context, userID uint) error {
	d.mu.Lock()
	delete(d.events, userID)
	d.mu.Unlock()
	return nil
}
