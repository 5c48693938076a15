package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/licenselock/licenselock/internal/domain"
	"github.com/licenselock/licenselock/internal/observability"
)

// RedisAbuseDetector keeps the rolling failure window in a sorted set scored
// by timestamp, so multiple nodes count against the same threshold.
type RedisAbuseDetector struct {
	client  redis.UniversalClient
	prefix  string
	policy  AbusePolicy
	blocker Blocker
	now     func() time.Time
}

func NewRedisAbuseDetector(client redis.UniversalClient, prefix string, blocker Blocker, policy AbusePolicy) *RedisAbuseDetector {
	if prefix == "" {
		prefix = "abuse"
	}
	return &RedisAbuseDetector{
		client:  client,
		prefix:  prefix,
		policy:  policy.normalized(),
		blocker: blocker,
		now:     time.Now,
	}
}

func (d *RedisAbuseDetector) Record(ctx context.Context, signal domain.AbuseSignal) error {
	observability.RecordAbuseSignal(ctx, string(signal.Kind))
	at := signal.ObservedAt
	if at.IsZero() {
		at = d.now()
	}
	key := d.stateKey(signal.UserID)
	cutoff := at.Add(-d.policy.Window)

	pipe := d.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", formatScore(cutoff))
	pipe.ZAdd(ctx, key, redis.Z{Score: scoreOf(at), Member: uuid.NewString()})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, d.policy.Window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record abuse signal: %w", err)
	}

	if card.Val() < int64(d.policy.Threshold) {
		return nil
	}
	// Threshold crossed: the window state is spent, the block takes over.
	if err := d.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear abuse window: %w", err)
	}
	observability.RecordAutoBlock(ctx)
	return d.blocker.AutoBlock(ctx, signal.UserID, autoBlockReason)
}

func (d *RedisAbuseDetector) Reset(ctx context.Context, userID uint) error {
	if err := d.client.Del(ctx, d.stateKey(userID)).Err(); err != nil {
		return fmt.Errorf("reset abuse window: %w", err)
	}
	return nil
}

func (d *RedisAbuseDetector) stateKey(userID uint) string {
	return d.prefix + ":user:" + strconv.FormatUint(uint64(userID), 10)
}

func scoreOf(t time.Time) float64 { return float64(t.UnixMilli()) }

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
