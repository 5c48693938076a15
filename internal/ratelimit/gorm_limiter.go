package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/observability"
	"github.com/licenselock/licenselock/internal/storage"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxConflictRetries bounds the optimistic retry on a lost window-creation
// race; after that the failure surfaces to the caller.
const maxConflictRetries = 3

type GormLimiter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormLimiter(db *gorm.DB) *GormLimiter {
	return &GormLimiter{db: db, now: time.Now}
}

func (l *GormLimiter) CheckAndConsume(ctx context.Context, identity, action string, limit int64, window time.Duration) (Decision, error) {
	var decision Decision
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		decision, err = l.consumeOnce(ctx, identity, action, limit, window)
		if err == nil {
			outcome := "deny"
			if decision.Allowed {
				outcome = "allow"
			}
			observability.RecordRateLimitDecision(ctx, action, outcome, "gorm")
			return decision, nil
		}
		if !storage.IsDuplicate(err) {
			break
		}
	}
	observability.RecordRateLimitDecision(ctx, action, "backend_error", "gorm")
	if storage.IsDuplicate(err) {
		return Decision{}, fault.Wrap(fault.KindConflict, fault.CodeRateLimited, "rate window race lost", err)
	}
	return Decision{}, storage.MapError("rate limit consume", err)
}

func (l *GormLimiter) consumeOnce(ctx context.Context, identity, action string, limit int64, window time.Duration) (Decision, error) {
	var decision Decision
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now().UTC()
		var row domain.RateWindow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("identity = ? AND action = ?", identity, action).
			First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = domain.RateWindow{
				Identity:    identity,
				Action:      action,
				Count:       1,
				WindowStart: now,
				WindowEnd:   now.Add(window),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			decision = Decision{Allowed: true, Remaining: limit - 1, WindowEnd: row.WindowEnd}
			return nil
		case err != nil:
			return err
		}

		if !now.Before(row.WindowEnd) {
			// Window elapsed: close and reopen in place, still under the row
			// lock, so close+open is one atomic step.
			end := now.Add(window)
			if err := tx.Model(&domain.RateWindow{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{"count": 1, "window_start": now, "window_end": end}).Error; err != nil {
				return err
			}
			decision = Decision{Allowed: true, Remaining: limit - 1, WindowEnd: end}
			return nil
		}

		if row.Count >= limit {
			decision = Decision{
				Allowed:    false,
				Remaining:  0,
				RetryAfter: row.WindowEnd.Sub(now),
				WindowEnd:  row.WindowEnd,
			}
			return nil
		}

		if err := tx.Model(&domain.RateWindow{}).
			Where("id = ?", row.ID).
			Update("count", gorm.Expr("count + 1")).Error; err != nil {
			return err
		}
		remaining := limit - row.Count - 1
		if remaining < 0 {
			remaining = 0
		}
		decision = Decision{Allowed: true, Remaining: remaining, WindowEnd: row.WindowEnd}
		return nil
	})
	return decision, err
}
