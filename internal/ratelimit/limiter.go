// Package ratelimit provides atomic fixed-window check-and-consume limiting
// keyed by (identity, action). Two backends exist: a durable one over the
// rate_windows table and a Redis one for multi-node deployments.
package ratelimit

import (
	"context"
	"time"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
	WindowEnd  time.Time
}

// Limiter is the check-and-consume contract: under concurrent requests for
// the same identity no two callers may both observe count < limit and both
// increment past it.
type Limiter interface {
	CheckAndConsume(ctx context.Context, identity, action string, limit int64, window time.Duration) (Decision, error)
}
