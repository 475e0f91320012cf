// Package ratelimiter coordinates the shared daily API budget and workflow
// locks through Redis so that concurrently scheduled workflows never overrun
// the marketplace quota or each other.
package ratelimiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stickertrendz/pipeline/internal/domain"
)

// Admission thresholds in calls/day. A priority is denied once the counter is
// strictly above its threshold, so a reading equal to the threshold still
// admits.
var admissionThresholds = map[domain.Priority]int64{
	domain.P0OrderReads:   9500,
	domain.P1NewListings:  9500,
	domain.P2PriceUpdates: 8500,
	domain.P3Analytics:    7000,
}

const (
	usageWarningAbove  = 7000
	usageCriticalAbove = 8500
	usageHardStopAbove = 9500

	counterTTL = 48 * time.Hour
)

// incrLua bumps the day counter and stamps the TTL when this increment
// created the key.
const incrLua = `
local v = redis.call("INCRBY", KEYS[1], ARGV[1])
if v == tonumber(ARGV[1]) then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return v
`

// releaseLua deletes the lock only when the stored token matches, so an
// expired holder can never delete a successor's lock.
const releaseLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`

// Governor is the shared-budget and lock coordinator. All operations bound
// their Redis round-trip with the configured timeout.
type Governor struct {
	rdb        *redis.Client
	dailyLimit int64
	timeout    time.Duration
	incr       *redis.Script
	release    *redis.Script
}

// NewGovernor wires a Governor onto a Redis client. dailyLimit is the
// provider quota used for reporting; admission thresholds are fixed.
func NewGovernor(rdb *redis.Client, dailyLimit int, timeout time.Duration) *Governor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Governor{
		rdb:        rdb,
		dailyLimit: int64(dailyLimit),
		timeout:    timeout,
		incr:       redis.NewScript(incrLua),
		release:    redis.NewScript(releaseLua),
	}
}

// CounterKey returns the UTC-date-scoped counter key for t.
func CounterKey(t time.Time) string {
	return "api_calls:" + t.UTC().Format("2006-01-02")
}

// Limit returns the provider's daily quota (for reporting only).
func (g *Governor) Limit() int64 { return g.dailyLimit }

// Increment atomically adds n to today's counter and returns the new value.
// The first increment of a day stamps a 48h TTL so stale counters expire on
// their own. Store failures are tagged rate_limiter_error.
func (g *Governor) Increment(ctx context.Context, n int) (int64, error) {
	if n <= 0 {
		n = 1
	}
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.incr.Run(cctx, g.rdb, []string{CounterKey(time.Now())}, n, int(counterTTL.Seconds())).Result()
	if err != nil {
		slog.Error("api counter increment failed", slog.Int("n", n), slog.Any("error", err))
		return 0, domain.Fail(domain.KindRateLimiterError, "redis", err)
	}
	v, ok := res.(int64)
	if !ok {
		slog.Error("api counter unexpected script result", slog.Any("result", res))
		return 0, domain.Failf(domain.KindRateLimiterError, "redis", "unexpected counter result %T", res)
	}
	return v, nil
}

// DailyUsage reads today's counter, 0 when absent.
func (g *Governor) DailyUsage(ctx context.Context) (int64, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	v, err := g.rdb.Get(cctx, CounterKey(time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, domain.Fail(domain.KindRateLimiterError, "redis", err)
	}
	return v, nil
}

// CanProceed reports whether a call at the given priority is admitted under
// today's usage. A store failure fails closed: the call is denied and the
// error returned for the caller to record.
func (g *Governor) CanProceed(ctx context.Context, p domain.Priority) (bool, error) {
	threshold, ok := admissionThresholds[p]
	if !ok {
		return false, domain.Failf(domain.KindValidation, "ratelimiter", "unknown priority %d", p)
	}
	usage, err := g.DailyUsage(ctx)
	if err != nil {
		slog.Error("admission check failed closed", slog.Int("priority", int(p)), slog.Any("error", err))
		return false, err
	}
	return usage <= threshold, nil
}

// Level classifies today's usage against the shared thresholds.
func (g *Governor) Level(ctx context.Context) (domain.UsageLevel, int64, error) {
	usage, err := g.DailyUsage(ctx)
	if err != nil {
		return domain.UsageHardStop, 0, err
	}
	switch {
	case usage > usageHardStopAbove:
		return domain.UsageHardStop, usage, nil
	case usage > usageCriticalAbove:
		return domain.UsageCritical, usage, nil
	case usage > usageWarningAbove:
		return domain.UsageWarning, usage, nil
	default:
		return domain.UsageNormal, usage, nil
	}
}
