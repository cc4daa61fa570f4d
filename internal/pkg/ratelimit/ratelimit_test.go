package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLimiter_BurstThenReject(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, "test:ratelimit:", 1, 2)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "1.2.3.4")
		if err != nil {
			t.Fatalf("allow #%d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request #%d should pass within burst", i)
		}
	}

	allowed, wait, err := limiter.Allow(ctx, "1.2.3.4")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if allowed {
		t.Fatal("request beyond burst should be rejected")
	}
	if wait <= 0 {
		t.Fatalf("expected positive wait hint, got %v", wait)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, "test:ratelimit:", 1, 1)

	ctx := context.Background()
	if allowed, _, _ := limiter.Allow(ctx, "1.1.1.1"); !allowed {
		t.Fatal("first key should pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "1.1.1.1"); allowed {
		t.Fatal("first key should be exhausted")
	}
	if allowed, _, _ := limiter.Allow(ctx, "2.2.2.2"); !allowed {
		t.Fatal("second key must have its own bucket")
	}
}

func TestLimiter_ZeroRateAlwaysAllows(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, "test:ratelimit:", 0, 0)

	for i := 0; i < 5; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "any")
		if err != nil || !allowed {
			t.Fatalf("disabled limiter must allow, got allowed=%v err=%v", allowed, err)
		}
	}
}

func TestLimiter_RefillOverTime(t *testing.T) {
	rdb := newMiniRedis(t)
	limiter := NewLimiter(rdb, "test:ratelimit:", 20, 1)

	ctx := context.Background()
	if allowed, _, _ := limiter.Allow(ctx, "ip"); !allowed {
		t.Fatal("warm request should pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "ip"); allowed {
		t.Fatal("bucket should be empty")
	}

	time.Sleep(120 * time.Millisecond)

	if allowed, _, _ := limiter.Allow(ctx, "ip"); !allowed {
		t.Fatal("bucket should refill after waiting")
	}
}
