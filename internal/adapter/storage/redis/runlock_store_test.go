package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLockStore_TryLock(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRunLockStore(client)
	ctx := context.Background()

	name := "reconcile:vnpay:tenant-1"

	ok, err := store.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second holder is refused while the lock lives
	ok, err = store.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunLockStore_Unlock(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRunLockStore(client)
	ctx := context.Background()

	name := "reconcile:momo:tenant-1"

	ok, err := store.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = store.Unlock(ctx, name)
	require.NoError(t, err)

	ok, err = store.TryLock(ctx, name, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLockStore_TTLReleasesCrashedHolder(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRunLockStore(client)
	ctx := context.Background()

	name := "reconcile:vnpay:tenant-2"

	ok, err := store.TryLock(ctx, name, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	s.FastForward(2 * time.Second)

	ok, err = store.TryLock(ctx, name, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be re-acquirable")
}
