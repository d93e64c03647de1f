package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"

	"github.com/tallyworks/tallyd/internal/clock"
)

func newTestLimiter(t *testing.T, rate float64, burst int) (*DeviceLimiter, *clock.FakeClock) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return &DeviceLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		clock:   clk,
		rate:    rate,
		burst:   burst,
	}, clk
}

func TestBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "Sellersburg_Certified_Center", "FTN")
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d denied inside burst", i)
		}
	}

	res, err := l.Allow(ctx, "Sellersburg_Certified_Center", "FTN")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if res.Allowed {
		t.Fatal("request beyond burst allowed")
	}
	if res.RetryAfter <= 0 || res.RetryAfter > 2*time.Second {
		t.Fatalf("retry after = %v, want about one second", res.RetryAfter)
	}
}

func TestTokensRefillOverTime(t *testing.T) {
	l, clk := newTestLimiter(t, 1, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, _ := l.Allow(ctx, "A", "FTN"); !res.Allowed {
			t.Fatalf("burst request %d denied", i)
		}
	}
	if res, _ := l.Allow(ctx, "A", "FTN"); res.Allowed {
		t.Fatal("empty bucket allowed a request")
	}

	clk.Advance(2 * time.Second)

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "A", "FTN")
		if err != nil {
			t.Fatalf("Allow after refill: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("refilled request %d denied", i)
		}
	}
	if res, _ := l.Allow(ctx, "A", "FTN"); res.Allowed {
		t.Fatal("bucket refilled past its burst")
	}
}

func TestLinesLimitIndependently(t *testing.T) {
	l, _ := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "A", "FTN"); !res.Allowed {
		t.Fatal("first FTN request denied")
	}
	if res, _ := l.Allow(ctx, "A", "FTN"); res.Allowed {
		t.Fatal("second FTN request allowed with empty bucket")
	}
	if res, _ := l.Allow(ctx, "A", "RTO"); !res.Allowed {
		t.Fatal("RTO throttled by FTN traffic")
	}
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	var l *DeviceLimiter
	for i := 0; i < 100; i++ {
		res, err := l.Allow(context.Background(), "A", "FTN")
		if err != nil || !res.Allowed {
			t.Fatalf("disabled limiter denied: %v %v", res, err)
		}
	}
}
