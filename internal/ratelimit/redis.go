package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisLimiter enforces windows using Redis counters shared across
// instances. Each (identifier, action) pair maps to one key that is
// incremented per check and expires with the window.
type RedisLimiter struct {
	client   *redis.Client
	prefix   string
	policies map[Action]Policy
	now      func() time.Time
}

// RedisOption configures RedisLimiter behavior.
type RedisOption func(*RedisLimiter)

// WithPrefix overrides the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithPolicy overrides the window and budget for one action class.
func WithPolicy(action Action, p Policy) RedisOption {
	return func(l *RedisLimiter) {
		if p.Window > 0 && p.Points > 0 {
			l.policies[action] = p
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RedisOption {
	return func(l *RedisLimiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewRedisLimiter wraps an existing client.
func NewRedisLimiter(client *redis.Client, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		client:   client,
		prefix:   "ratelimit",
		policies: DefaultPolicies(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// New constructs a limiter from the configured connection string. An
// empty URL selects the Disabled (fail-open) variant.
func New(redisURL string, opts ...RedisOption) (Limiter, error) {
	redisURL = strings.TrimSpace(redisURL)
	if redisURL == "" {
		return NewDisabled(), nil
	}
	parsed, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse redis url: %w", err)
	}
	return NewRedisLimiter(redis.NewClient(parsed), opts...), nil
}

// Check consumes one point from the (identifier, action) window. On a
// Redis error the check is allowed (fail-open) and the error is returned
// so callers can record it without blocking the request.
func (l *RedisLimiter) Check(ctx context.Context, identifier string, action Action) (Result, error) {
	policy, ok := l.policies[action]
	if !ok {
		return Result{Allowed: true}, nil
	}
	key := fmt.Sprintf("%s:%s:%s", l.prefix, action, identifier)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, policy.Window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{Allowed: true, Limit: policy.Points}, fmt.Errorf("ratelimit: redis: %w", err)
	}

	count := incr.Val()
	remaining := policy.Points - int(count)
	if remaining < 0 {
		remaining = 0
	}
	resetAt := l.now().Add(policy.Window)
	if d := ttl.Val(); d > 0 {
		resetAt = l.now().Add(d)
	}
	return Result{
		Allowed:   count <= int64(policy.Points),
		Limit:     policy.Points,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}

// Ping verifies counter store connectivity for readiness probes.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
