package keystore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"keyhaven/internal/domain"
)

// MemoryKeystore implements Keystore in process on go-cache. It is used in
// tests and single-process development setups without Redis.
type MemoryKeystore struct {
	items      *cache.Cache
	mu         sync.Mutex
	lockWait   time.Duration
	retryDelay time.Duration
}

// NewMemoryKeystore creates an in-process keystore
func NewMemoryKeystore(lockWait time.Duration) *MemoryKeystore {
	return &MemoryKeystore{
		items:      cache.New(cache.NoExpiration, time.Minute),
		lockWait:   lockWait,
		retryDelay: 10 * time.Millisecond,
	}
}

type memoryLock struct {
	store *MemoryKeystore
	keys  []string
	token string
}

// Release drops the keys still owned by this lock
func (l *memoryLock) Release(ctx context.Context) error {
	l.store.release(l.keys, l.token)
	return nil
}

func (k *MemoryKeystore) release(keys []string, token string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range keys {
		if v, ok := k.items.Get(lockPrefix + key); ok && v.(string) == token {
			k.items.Delete(lockPrefix + key)
		}
	}
}

// tryLock takes every key or none
func (k *MemoryKeystore) tryLock(keys []string, ttl time.Duration) (*memoryLock, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	l := &memoryLock{store: k, token: uuid.NewString()}
	for _, key := range keys {
		if err := k.items.Add(lockPrefix+key, l.token, ttl); err != nil {
			for _, taken := range l.keys {
				k.items.Delete(lockPrefix + taken)
			}
			return nil, false
		}
		l.keys = append(l.keys, key)
	}
	return l, true
}

// AcquireLock polls until every key is free or the wait time runs out
func (k *MemoryKeystore) AcquireLock(ctx context.Context, keys []string, ttl time.Duration) (Lock, error) {
	ordered := lockOrder(keys)
	deadline := time.Now().Add(k.lockWait)
	for {
		if l, ok := k.tryLock(ordered, ttl); ok {
			return l, nil
		}
		if time.Now().After(deadline) {
			return nil, &domain.LockTimeoutError{Keys: keys}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(k.retryDelay):
		}
	}
}

// TryAcquireLock makes a single attempt
func (k *MemoryKeystore) TryAcquireLock(ctx context.Context, keys []string, ttl time.Duration) (Lock, bool, error) {
	l, ok := k.tryLock(lockOrder(keys), ttl)
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

func (k *MemoryKeystore) SetItemWithExpiry(ctx context.Context, key string, ttl time.Duration, value string) error {
	k.items.Set(key, value, ttl)
	return nil
}

func (k *MemoryKeystore) GetItem(ctx context.Context, key string) (string, bool, error) {
	v, ok := k.items.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (k *MemoryKeystore) DeleteItem(ctx context.Context, key string) error {
	k.items.Delete(key)
	return nil
}
