package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter counts failed logins per email in redis and locks the email
// out for the cooldown once max failures are reached. A nil limiter or a
// nil client allows everything.
type LoginLimiter struct {
	rdb      *redis.Client
	max      int
	cooldown time.Duration
}

func NewLoginLimiter(rdb *redis.Client, maxAttempts int, cooldown time.Duration) *LoginLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &LoginLimiter{rdb: rdb, max: maxAttempts, cooldown: cooldown}
}

func attemptsKey(email string) string { return "login_attempts:" + email }
func lockKey(email string) string     { return "login_cooldown:" + email }

// Check returns how long the email remains locked out, or zero.
func (l *LoginLimiter) Check(ctx context.Context, email string) (time.Duration, error) {
	if l == nil || l.rdb == nil {
		return 0, nil
	}
	ttl, err := l.rdb.TTL(ctx, lockKey(email)).Result()
	if err != nil || ttl <= 0 {
		return 0, err
	}
	return ttl, nil
}

// Fail records a failed attempt and returns the lock-out duration when this
// attempt reached the limit.
func (l *LoginLimiter) Fail(ctx context.Context, email string) (time.Duration, error) {
	if l == nil || l.rdb == nil {
		return 0, nil
	}
	n, err := l.rdb.Incr(ctx, attemptsKey(email)).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, attemptsKey(email), l.cooldown).Err(); err != nil {
			return 0, err
		}
	}
	if n < int64(l.max) {
		return 0, nil
	}
	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, lockKey(email), "1", l.cooldown)
	pipe.Del(ctx, attemptsKey(email))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return l.cooldown, nil
}

func (l *LoginLimiter) Reset(ctx context.Context, email string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Del(ctx, attemptsKey(email), lockKey(email)).Err()
}
