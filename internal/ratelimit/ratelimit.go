// Package ratelimit enforces per-user request quotas. The Redis limiter is
// shared by every instance; the local limiter is the single-process
// fallback used when no Redis is configured or Redis is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Decision is the outcome of one quota check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter consumes one unit of key's quota
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisLimiter is a fixed-window counter: the first hit in a window
// creates the key with the window as its TTL.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	limit    int
	window   time.Duration
	fallback Limiter
}

// NewRedisLimiter creates a shared limiter. fallback may be nil, in which
// case Redis errors are returned to the caller.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, fallback Limiter) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window, fallback: fallback}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	d, err := l.allow(ctx, l.prefix+key)
	if err != nil && l.fallback != nil {
		log.Printf("[RATELIMIT] redis unavailable, using local limiter: %v", err)
		return l.fallback.Allow(ctx, key)
	}
	return d, err
}

func (l *RedisLimiter) allow(ctx context.Context, key string) (Decision, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	if count <= int64(l.limit) {
		return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	if ttl < 0 {
		// Counter lost its TTL; start a fresh window so the key cannot stick forever.
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("failed to set rate limit window: %w", err)
		}
		ttl = l.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

type localEntry struct {
	limiter *rate.Limiter
	last    time.Time
}

// LocalLimiter keeps one token bucket per key in process memory. The
// bucket holds limit tokens and refills one every window/limit.
type LocalLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewLocalLimiter creates an in-process limiter
func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		entries: make(map[string]*localEntry),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *LocalLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evict(now)
	e, ok := l.entries[key]
	if !ok {
		e = &localEntry{limiter: rate.NewLimiter(rate.Every(l.window/time.Duration(l.limit)), l.limit)}
		l.entries[key] = e
	}
	e.last = now

	r := e.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true, Remaining: int(e.limiter.TokensAt(now))}, nil
}

// evict drops buckets idle for longer than a window; they are full again.
func (l *LocalLimiter) evict(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.last) > l.window {
			delete(l.entries, k)
		}
	}
}
