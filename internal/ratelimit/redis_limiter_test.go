package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLimiterForTest(t *testing.T) *RedisLimiter {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLimiter(client, "rl_test")
}

func TestRedisLimiterExactLimitBoundary(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiterForTest(t)

	const limit = 4
	for i := 0; i < limit; i++ {
		d, err := limiter.CheckAndConsume(ctx, "u1", "login", limit, time.Minute)
		if err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d within limit must be allowed", i+1)
		}
	}

	for i := 0; i < 3; i++ {
		d, err := limiter.CheckAndConsume(ctx, "u1", "login", limit, time.Minute)
		if err != nil {
			t.Fatalf("consume over limit: %v", err)
		}
		if d.Allowed {
			t.Fatal("request past the limit must be denied")
		}
		if d.Remaining != 0 {
			t.Fatalf("denied decision remaining = %d, want 0", d.Remaining)
		}
	}
}

func TestRedisLimiterFreshBucketAfterWindow(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiterForTest(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	if _, err := limiter.CheckAndConsume(ctx, "u2", "login", 1, time.Minute); err != nil {
		t.Fatalf("consume: %v", err)
	}
	d, err := limiter.CheckAndConsume(ctx, "u2", "login", 1, time.Minute)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected denial at limit")
	}

	limiter.now = func() time.Time { return base.Add(2 * time.Minute) }
	d, err = limiter.CheckAndConsume(ctx, "u2", "login", 1, time.Minute)
	if err != nil {
		t.Fatalf("consume in next bucket: %v", err)
	}
	if !d.Allowed {
		t.Fatal("next bucket must start fresh")
	}
}

func TestRedisLimiterDefaultsNonPositiveWindow(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiterForTest(t)

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	limiter.now = func() time.Time { return base }

	d, err := limiter.CheckAndConsume(ctx, "u5", "login", 1, 0)
	if err != nil {
		t.Fatalf("consume with zero window: %v", err)
	}
	if !d.Allowed {
		t.Fatal("first request must be allowed")
	}

	d, err = limiter.CheckAndConsume(ctx, "u5", "login", 1, -time.Second)
	if err != nil {
		t.Fatalf("consume with negative window: %v", err)
	}
	if d.Allowed {
		t.Fatal("second request must count against the defaulted window")
	}
}

func TestRedisLimiterConcurrentConsumersNeverExceedLimit(t *testing.T) {
	ctx := context.Background()
	limiter := newRedisLimiterForTest(t)

	const (
		limit   = 5
		callers = 24
	)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			d, err := limiter.CheckAndConsume(ctx, "u3", "login", limit, time.Minute)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != limit {
		t.Fatalf("allowed %d concurrent requests, want exactly %d", got, limit)
	}
}
