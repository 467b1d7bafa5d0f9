// Package keystore provides the shared key/value and distributed lock
// primitives used to coordinate background jobs across processes.
package keystore

import (
	"context"
	"sort"
	"time"
)

// Lock is a held lock over one or more keys.
type Lock interface {
	Release(ctx context.Context) error
}

// Keystore is a small shared store with expiring items and multi-key locks.
type Keystore interface {
	// AcquireLock locks every key, waiting up to the store's lock wait.
	// Returns a LockTimeoutError when the keys stay held by someone else.
	AcquireLock(ctx context.Context, keys []string, ttl time.Duration) (Lock, error)

	// TryAcquireLock makes a single attempt. ok is false when any key is held.
	TryAcquireLock(ctx context.Context, keys []string, ttl time.Duration) (lock Lock, ok bool, err error)

	SetItemWithExpiry(ctx context.Context, key string, ttl time.Duration, value string) error

	// GetItem returns the value and whether the key exists
	GetItem(ctx context.Context, key string) (string, bool, error)

	DeleteItem(ctx context.Context, key string) error
}

const lockPrefix = "lock:"

// lockOrder returns the unique keys sorted, so that every caller takes
// overlapping locks in the same order.
func lockOrder(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	return ordered
}
