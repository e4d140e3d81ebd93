package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter provides proactive rate limiting for oracle API calls using
// Redis. Checking global counters before the call prevents quota exhaustion
// when several processes share one API key.
type RateLimiter struct {
	redis    *redis.Client
	rpmLimit int64 // requests per minute
	tpmLimit int64 // tokens per minute
	rpdLimit int64 // requests per day
}

// Defaults sized for a paid tier-1 key shared across a small deployment.
const (
	DefaultRPM = 1000
	DefaultTPM = 1_000_000
	DefaultRPD = 10_000
)

// NewRateLimiter creates a limiter on an existing Redis client.
// Zero limits fall back to the defaults above.
func NewRateLimiter(client *redis.Client, rpm, tpm, rpd int64) *RateLimiter {
	if rpm <= 0 {
		rpm = DefaultRPM
	}
	if tpm <= 0 {
		tpm = DefaultTPM
	}
	if rpd <= 0 {
		rpd = DefaultRPD
	}
	return &RateLimiter{redis: client, rpmLimit: rpm, tpmLimit: tpm, rpdLimit: rpd}
}

// checkScript atomically increments the per-minute and per-day counters and
// rejects at 90% of the minute limits (proactive) or 100% of the day limit.
// A Lua script avoids the race between check and increment across processes.
var checkScript = redis.NewScript(`
	local rpm_key = KEYS[1]
	local tpm_key = KEYS[2]
	local rpd_key = KEYS[3]
	local rpm_limit = tonumber(ARGV[1])
	local tpm_limit = tonumber(ARGV[2])
	local rpd_limit = tonumber(ARGV[3])
	local tokens = tonumber(ARGV[4])

	local rpm = redis.call('INCR', rpm_key)
	local tpm = redis.call('INCRBY', tpm_key, tokens)
	local rpd = redis.call('INCR', rpd_key)

	-- 70s TTL on minute keys leaves a buffer for clock skew
	if rpm == 1 then redis.call('EXPIRE', rpm_key, 70) end
	if tpm == tokens then redis.call('EXPIRE', tpm_key, 70) end
	if rpd == 1 then redis.call('EXPIRE', rpd_key, 86400) end

	if rpm >= rpm_limit * 0.9 then
		return {-1, 'RPM', rpm, rpm_limit}
	end
	if tpm >= tpm_limit * 0.9 then
		return {-2, 'TPM', tpm, tpm_limit}
	end
	if rpd >= rpd_limit then
		return {-3, 'RPD', rpd, rpd_limit}
	end
	return {0, 'OK', rpm, tpm}
`)

// CheckAndIncrement records one request of estimatedTokens and returns an
// error if the caller should throttle.
func (r *RateLimiter) CheckAndIncrement(ctx context.Context, estimatedTokens int64) error {
	now := time.Now().UTC()
	minuteKey := fmt.Sprintf("oracle:rpm:%s", now.Format("2006-01-02T15:04"))
	tpmKey := fmt.Sprintf("oracle:tpm:%s", now.Format("2006-01-02T15:04"))
	dayKey := fmt.Sprintf("oracle:rpd:%s", now.Format("2006-01-02"))

	result, err := checkScript.Run(ctx, r.redis,
		[]string{minuteKey, tpmKey, dayKey},
		r.rpmLimit, r.tpmLimit, r.rpdLimit, estimatedTokens).Result()
	if err != nil {
		return fmt.Errorf("rate limiter redis operation failed: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 4 {
		return fmt.Errorf("invalid rate limiter response format")
	}
	code, _ := values[0].(int64)
	if code == 0 {
		return nil
	}

	window, _ := values[1].(string)
	current, _ := values[2].(int64)
	limit, _ := values[3].(int64)
	return fmt.Errorf("oracle %s limit approaching: %d of %d", window, current, limit)
}
