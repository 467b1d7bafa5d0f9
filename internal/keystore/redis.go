package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"keyhaven/internal/domain"
)

// RedisKeystore implements Keystore on Redis, with redsync mutexes for locks.
type RedisKeystore struct {
	client     redis.UniversalClient
	sync       *redsync.Redsync
	lockWait   time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

// NewRedisKeystore creates a keystore. lockWait bounds AcquireLock.
func NewRedisKeystore(client redis.UniversalClient, lockWait time.Duration, logger *slog.Logger) *RedisKeystore {
	return &RedisKeystore{
		client:     client,
		sync:       redsync.New(goredis.NewPool(client)),
		lockWait:   lockWait,
		retryDelay: 100 * time.Millisecond,
		logger:     logger,
	}
}

type redisLock struct {
	mutexes []*redsync.Mutex
}

// Release unlocks every key, reporting all failures
func (l *redisLock) Release(ctx context.Context) error {
	var result *multierror.Error
	for i := len(l.mutexes) - 1; i >= 0; i-- {
		if _, err := l.mutexes[i].UnlockContext(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("unlock %s: %w", l.mutexes[i].Name(), err))
		}
	}
	return result.ErrorOrNil()
}

func (k *RedisKeystore) lock(ctx context.Context, keys []string, ttl time.Duration, tries int) (*redisLock, error) {
	held := &redisLock{}
	for _, key := range lockOrder(keys) {
		m := k.sync.NewMutex(lockPrefix+key,
			redsync.WithExpiry(ttl),
			redsync.WithTries(tries),
			redsync.WithRetryDelay(k.retryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			if releaseErr := held.Release(context.WithoutCancel(ctx)); releaseErr != nil {
				k.logger.Warn("failed to release partial lock", "error", releaseErr)
			}
			return nil, err
		}
		held.mutexes = append(held.mutexes, m)
	}
	return held, nil
}

// AcquireLock locks every key, retrying until the wait time runs out
func (k *RedisKeystore) AcquireLock(ctx context.Context, keys []string, ttl time.Duration) (Lock, error) {
	tries := int(k.lockWait/k.retryDelay) + 1
	l, err := k.lock(ctx, keys, ttl, tries)
	if err != nil {
		if isLockContention(err) {
			return nil, &domain.LockTimeoutError{Keys: keys}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return l, nil
}

// TryAcquireLock makes a single locking attempt
func (k *RedisKeystore) TryAcquireLock(ctx context.Context, keys []string, ttl time.Duration) (Lock, bool, error) {
	l, err := k.lock(ctx, keys, ttl, 1)
	if err != nil {
		if isLockContention(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("try lock: %w", err)
	}
	return l, true, nil
}

func isLockContention(err error) bool {
	var taken *redsync.ErrTaken
	return errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken)
}

// SetItemWithExpiry stores value under key for ttl
func (k *RedisKeystore) SetItemWithExpiry(ctx context.Context, key string, ttl time.Duration, value string) error {
	if err := k.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// GetItem returns the value stored under key
func (k *RedisKeystore) GetItem(ctx context.Context, key string) (string, bool, error) {
	value, err := k.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

// DeleteItem removes key
func (k *RedisKeystore) DeleteItem(ctx context.Context, key string) error {
	if err := k.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
