package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockoutPrefix = "capture:auth:failures:"

// Lockout counts failed logins per client IP in Redis. An IP with attempts failures
// inside the window is refused until the counter expires.
type Lockout struct {
	rdb      *redis.Client
	attempts int64
	window   time.Duration
}

// NewLockout creates a lockout tracker. attempts <= 0 disables it.
func NewLockout(rdb *redis.Client, attempts int, window time.Duration) *Lockout {
	return &Lockout{rdb: rdb, attempts: int64(attempts), window: window}
}

// Locked reports whether ip is locked out and for how long.
func (l *Lockout) Locked(ctx context.Context, ip string) (bool, time.Duration, error) {
	if l == nil || l.attempts <= 0 {
		return false, 0, nil
	}
	n, err := l.rdb.Get(ctx, lockoutPrefix+ip).Int64()
	if errors.Is(err, redis.Nil) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("lockout get: %w", err)
	}
	if n < l.attempts {
		return false, 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, lockoutPrefix+ip).Result()
	if err != nil {
		return true, l.window, fmt.Errorf("lockout ttl: %w", err)
	}
	return true, ttl, nil
}

// Fail records a failed login and returns the failure count in the current window.
func (l *Lockout) Fail(ctx context.Context, ip string) (int64, error) {
	if l == nil || l.attempts <= 0 {
		return 0, nil
	}
	key := lockoutPrefix + ip
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("lockout incr: %w", err)
	}
	if n == 1 || n == l.attempts {
		// the lock lasts a full window from the failure that triggered it
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return n, fmt.Errorf("lockout expire: %w", err)
		}
	}
	return n, nil
}

// Reset clears the failures of ip after a successful login.
func (l *Lockout) Reset(ctx context.Context, ip string) error {
	if l == nil || l.attempts <= 0 {
		return nil
	}
	return l.rdb.Del(ctx, lockoutPrefix+ip).Err()
}
