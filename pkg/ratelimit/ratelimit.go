// Package ratelimit implements fixed one-minute request windows per subject.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is the length of a counting window.
const Window = time.Minute

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a subject may make another request.
type Limiter interface {
	Allow(ctx context.Context, subject string) (Decision, error)
}

func decide(limit int, count int64, ttl time.Duration) Decision {
	d := Decision{Limit: limit, Allowed: count <= int64(limit)}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}
	if !d.Allowed {
		if ttl <= 0 {
			ttl = Window
		}
		d.RetryAfter = ttl
	}
	return d
}

// RedisLimiter counts requests in Redis so limits hold across replicas.
type RedisLimiter struct {
	client redis.Cmdable
	limit  int
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit requests per Window.
func NewRedisLimiter(client redis.Cmdable, limit int) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, prefix: "ratelimit:", now: time.Now}
}

// Allow increments the subject's counter for the current window. Keys are
// scoped to the window start and expire with it, so no cleanup is needed.
func (l *RedisLimiter) Allow(ctx context.Context, subject string) (Decision, error) {
	if l.limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	window := l.now().Truncate(Window)
	key := fmt.Sprintf("%s%s:%d", l.prefix, subject, window.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, Window)
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("increment rate window: %w", err)
	}

	retryAfter := window.Add(Window).Sub(l.now())
	return decide(l.limit, incr.Val(), retryAfter), nil
}

// MemoryLimiter is the single-process equivalent of RedisLimiter, used when
// no Redis is configured.
type MemoryLimiter struct {
	limit int
	now   func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int64
	windowAt time.Time
}

// NewMemoryLimiter creates an in-process limiter allowing limit requests per
// Window.
func NewMemoryLimiter(limit int) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, now: time.Now, counters: make(map[string]*counter)}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	if l.limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	now := l.now()
	window := now.Truncate(Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[subject]
	if !ok || !c.windowAt.Equal(window) {
		c = &counter{windowAt: window}
		l.counters[subject] = c
		l.sweep(window)
	}
	c.count++

	return decide(l.limit, c.count, window.Add(Window).Sub(now)), nil
}

// sweep drops counters from earlier windows. Callers hold l.mu.
func (l *MemoryLimiter) sweep(current time.Time) {
	for k, c := range l.counters {
		if c.windowAt.Before(current) {
			delete(l.counters, k)
		}
	}
}
