package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/ports/adapter"
)

var _ adapter.Locker = (*RedisLocker)(nil)

type RedisLocker struct {
	cli     RedisClient
	retries uint64
	wait    time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, retries: 4, wait: 50 * time.Millisecond}
}

// TryLock polls SETNX a few times before giving up with
// domain.ErrLockNotAcquired. Redis errors are returned as is.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	err := retry.Do(ctx, retry.WithMaxRetries(l.retries, retry.NewConstant(l.wait)), func(ctx context.Context) error {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(domain.ErrLockNotAcquired)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrLockNotAcquired) {
			return "", domain.ErrLockNotAcquired
		}
		return "", err
	}
	return token, nil
}

// Unlock releases key if token still owns it; an expired or stolen lock is
// left alone.
func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	_, err := l.cli.CompareAndDelete(ctx, key, token)
	return err
}
