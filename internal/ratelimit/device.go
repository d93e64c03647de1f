package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/tallyworks/tallyd/internal/clock"
	"github.com/tallyworks/tallyd/internal/config"
)

const keyDeviceIngest = "tally:ingest:%s:%s"

// DeviceLimiter throttles count submissions per production line, so one
// misbehaving tally device cannot flood the engine. Each facility/line pair
// gets its own bucket.
type DeviceLimiter struct {
	enabled bool

	bucket *TokenBucket
	clock  clock.Clock

	rate  float64
	burst int
}

func NewDeviceLimiter(cfg config.Config, clk clock.Clock) (*DeviceLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.DeviceRate <= 0 || limitCfg.DeviceBurst <= 0 {
		return nil, errors.New("device rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &DeviceLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		clock:   clk,
		rate:    limitCfg.DeviceRate,
		burst:   limitCfg.DeviceBurst,
	}, nil
}

func (l *DeviceLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// Allow admits or rejects one submission from the given line.
func (l *DeviceLimiter) Allow(ctx context.Context, facility, line string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyDeviceIngest, strings.TrimSpace(facility), strings.TrimSpace(line))
	return l.bucket.Allow(ctx, key, l.rate, l.burst, l.clock.Now())
}
