package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateWindow = time.Hour

// Limiter enforces the sliding one-hour send window per user.
type Limiter interface {
	// Allow reports whether another send fits under limit, recording it
	// when it does.
	Allow(ctx context.Context, userID string, limit int) (bool, error)

	// Record counts a send unconditionally.
	Record(ctx context.Context, userID string) error
}

// RedisLimiter keeps the window in a sorted set per user, scored by unix
// nanos, so multiple processes share one budget.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

func rateKey(userID string) string {
	return "devlens:notify:rate:" + userID
}

func (l *RedisLimiter) Allow(ctx context.Context, userID string, limit int) (bool, error) {
	key := rateKey(userID)
	now := l.now()
	cutoff := now.Add(-rateWindow).UnixNano()

	if err := l.client.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", cutoff)).Err(); err != nil {
		return false, fmt.Errorf("failed to trim rate window: %w", err)
	}
	count, err := l.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count rate window: %w", err)
	}
	if count >= int64(limit) {
		return false, nil
	}
	if err := l.record(ctx, key, now); err != nil {
		return false, err
	}
	return true, nil
}

func (l *RedisLimiter) Record(ctx context.Context, userID string) error {
	return l.record(ctx, rateKey(userID), l.now())
}

func (l *RedisLimiter) record(ctx context.Context, key string, now time.Time) error {
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()[:8])
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, rateWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record send: %w", err)
	}
	return nil
}

// MemoryLimiter is the single-process fallback.
type MemoryLimiter struct {
	mu    sync.Mutex
	sends map[string][]time.Time
	now   func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{sends: make(map[string][]time.Time), now: time.Now}
}

// WithLimiterClock pins the limiter clock, mainly for tests.
func (l *MemoryLimiter) WithLimiterClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(ctx context.Context, userID string, limit int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	window := l.trim(userID, now)
	if len(window) >= limit {
		return false, nil
	}
	l.sends[userID] = append(window, now)
	return true, nil
}

func (l *MemoryLimiter) Record(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sends[userID] = append(l.trim(userID, now), now)
	return nil
}

// trim drops sends older than the window. Caller holds the lock.
func (l *MemoryLimiter) trim(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-rateWindow)
	var kept []time.Time
	for _, t := range l.sends[userID] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.sends[userID] = kept
	return kept
}
