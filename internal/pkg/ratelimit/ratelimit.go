package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripesync/stripesync/internal/pkg/env"
)

// DefaultRequestsPerMinute is Stripe's documented live-mode read limit with
// headroom for the host application's own traffic.
const DefaultRequestsPerMinute = 75

const window = time.Minute

// Result is the outcome of an acquisition attempt. When Allowed is false,
// RetryAfter carries the time remaining until the current window resets.
type Result struct {
	Allowed    bool
	RetryAfter time.Duration
}

// CounterStore atomically increments the counter stored under key and
// returns the new value. Keys are per-window and must expire after ttl.
type CounterStore interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Limiter bounds outbound Stripe API calls to a fixed-window budget. It is
// shared across all webhook handlers and never blocks: callers receive a
// Denied result and choose their own backoff.
type Limiter struct {
	store   CounterStore
	keyName string
	limit   int64

	now func() time.Time // test hook
}

// New creates a limiter over the given counter store.
func New(store CounterStore, keyName string, requestsPerMinute int64) *Limiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	if keyName == "" {
		keyName = "stripesync:ratelimit"
	}
	return &Limiter{
		store:   store,
		keyName: keyName,
		limit:   requestsPerMinute,
		now:     time.Now,
	}
}

// NewFromEnv creates a limiter configured from STRIPE_RATE_LIMIT_KEY and
// STRIPE_RATE_LIMIT_RPM.
func NewFromEnv(store CounterStore) *Limiter {
	rpm, err := strconv.ParseInt(env.GetEnv("STRIPE_RATE_LIMIT_RPM", ""), 10, 64)
	if err != nil {
		rpm = DefaultRequestsPerMinute
	}
	return New(store, env.GetEnv("STRIPE_RATE_LIMIT_KEY", "stripesync:ratelimit"), rpm)
}

// Acquire consumes one unit of the current window's budget. The increment
// and the ceiling comparison happen on the store's atomic counter, so
// concurrent callers cannot race past the limit.
func (l *Limiter) Acquire(ctx context.Context) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(window)
	key := fmt.Sprintf("%s:%d", l.keyName, windowStart.Unix())

	// Keys outlive their window slightly so late readers still see them.
	count, err := l.store.Incr(ctx, key, 2*window)
	if err != nil {
		return Result{}, err
	}

	if count > l.limit {
		retryAfter := windowStart.Add(window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return Result{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Result{Allowed: true}, nil
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore creates a counter store over a shared Redis instance, giving
// multi-instance deployments a single rate-limit budget.
func NewRedisStore(client *redis.Client) CounterStore {
	return &redisStore{client: client}
}

func (s *redisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

type memoryStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time
}

// NewMemoryStore creates a process-local counter store for single-instance
// deployments without a cache server, and for tests.
func NewMemoryStore() CounterStore {
	return &memoryStore{counters: make(map[string]*memoryCounter), now: time.Now}
}

func (s *memoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.counters {
		if now.After(c.expiresAt) {
			delete(s.counters, k)
		}
	}

	c, ok := s.counters[key]
	if !ok {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count++
	return c.count, nil
}
