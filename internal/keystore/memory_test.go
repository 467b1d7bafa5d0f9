package keystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"keyhaven/internal/domain"
)

func TestMemoryLockExcludesOverlappingKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeystore(50 * time.Millisecond)

	lock, err := store.AcquireLock(ctx, []string{"b", "a"}, time.Minute)
	require.NoError(t, err)

	_, ok, err := store.TryAcquireLock(ctx, []string{"a", "c"}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// the failed attempt must not leave "c" held
	other, ok, err := store.TryAcquireLock(ctx, []string{"c"}, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.Release(ctx))

	_, err = store.AcquireLock(ctx, []string{"a"}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockTimeout)

	require.NoError(t, lock.Release(ctx))

	again, err := store.AcquireLock(ctx, []string{"a"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestMemoryLockExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeystore(time.Second)

	_, err := store.AcquireLock(ctx, []string{"k"}, 20*time.Millisecond)
	require.NoError(t, err)

	lock, err := store.AcquireLock(ctx, []string{"k"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx))
}

func TestMemoryItems(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryKeystore(time.Second)

	_, ok, err := store.GetItem(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetItemWithExpiry(ctx, "k", time.Minute, "v"))
	v, ok, err := store.GetItem(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	require.NoError(t, store.DeleteItem(ctx, "k"))
	_, ok, _ = store.GetItem(ctx, "k")
	assert.False(t, ok)
}

func TestLockOrderDedupesAndSorts(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, lockOrder([]string{"b", "a", "b"}))
}
