package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Manager runs sliding windows in Redis so that every worker sharing a credential shares its limit
type Manager struct {
	limiter *redis.RateLimiter
	logger  ectologger.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewManager creates a new rate limit manager
func NewManager(redisClient *redis.Client, logger ectologger.Logger) *Manager {
	return newManager(redis.NewRateLimiter(redisClient, "thistle:ratelimit:"), logger)
}

func newManager(limiter *redis.RateLimiter, logger ectologger.Logger) *Manager {
	return &Manager{
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// CheckResult represents the result of a rate limit check
type CheckResult struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int64
}

// Check records a call against key if the window allows it. Redis errors fail open.
func (m *Manager) Check(ctx context.Context, key string, limit int, window time.Duration) (*CheckResult, error) {
	ctx, span := tracing.StartSpan(ctx, "ratelimit.Manager.Check")
	defer span.End()

	result, err := m.limiter.Allow(ctx, key, int64(limit), window)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Errorf("Rate limit check failed for %s", key)
		return &CheckResult{Allowed: true}, nil
	}

	if !result.Allowed {
		return &CheckResult{Allowed: false, RetryAfter: result.RetryIn}, nil
	}

	m.logger.WithContext(ctx).Debugf("Rate limit %s: %d remaining", key, result.Remaining)
	return &CheckResult{Allowed: true, Remaining: result.Remaining}, nil
}

// WaitForLimit blocks until the window for key admits the call or ctx ends. A full window
// delays the call; it never fails it.
func (m *Manager) WaitForLimit(ctx context.Context, key string, limit int, window time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "ratelimit.Manager.WaitForLimit")
	defer span.End()

	start := m.now()
	defer func() {
		metrics.RateLimitWaitTime.WithLabelValues(key).Observe(m.now().Sub(start).Seconds())
	}()

	for {
		result, err := m.Check(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if result.Allowed {
			return nil
		}

		retry := max(result.RetryAfter, time.Millisecond)
		m.logger.WithContext(ctx).Infof("Rate limited by %s, waiting %v", key, retry)
		if err := m.sleep(ctx, retry); err != nil {
			return err
		}
	}
}

// BlockFor stops admitting calls for key, e.g. after an upstream 429
func (m *Manager) BlockFor(ctx context.Context, key string, d time.Duration) error {
	return m.limiter.BlockFor(ctx, key, d)
}

// Reset clears the window of key
func (m *Manager) Reset(ctx context.Context, key string) error {
	return m.limiter.Reset(ctx, key)
}

// SharedFactory builds Redis-backed limiters, one key per credential. Callers of one limiter
// reach Redis oldest first.
func (m *Manager) SharedFactory(limit int, window time.Duration) Factory {
	return func(credential string) Limiter {
		return &sharedLimiter{manager: m, key: credential, limit: limit, window: window}
	}
}

type sharedLimiter struct {
	manager *Manager
	key     string
	limit   int
	window  time.Duration
	queue   ticketQueue
}

func (s *sharedLimiter) Wait(ctx context.Context) error {
	ticket, err := s.queue.enter(ctx)
	if err != nil {
		return err
	}
	defer s.queue.leave(ticket)

	return s.manager.WaitForLimit(ctx, s.key, s.limit, s.window)
}

// ParseRetryAfter parses a Retry-After header value given in seconds or as an HTTP date
func ParseRetryAfter(value string, now time.Time) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}

	if t, err := time.Parse(time.RFC1123, value); err == nil {
		return t.Sub(now), nil
	}

	return 0, fmt.Errorf("invalid Retry-After value: %s", value)
}
