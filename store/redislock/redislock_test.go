/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package redislock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func requireRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("RANGEWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RANGEWATCH_TEST_REDIS_ADDR not set, skipping redis-backed test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis at %s not reachable: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestLockAcquireExclusiveRelease(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	key := "rangewatch-test:lock"
	defer rdb.Del(ctx, key)

	l1 := New(rdb, key, 5*time.Second)
	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	l2 := New(rdb, key, 5*time.Second)
	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, l1.Release(ctx))

	ok, err = l2.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l2.Release(ctx))
}

func TestLockReleaseNotHolderIsNoop(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	key := "rangewatch-test:lock-foreign"
	defer rdb.Del(ctx, key)

	l1 := New(rdb, key, 5*time.Second)
	ok, err := l1.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	l2 := New(rdb, key, 5*time.Second)
	l2.token = "not-the-real-token"
	err = l2.Release(ctx)
	require.ErrorIs(t, err, ErrNotHeld)

	h, found, err := CurrentHolder(ctx, rdb, key)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, l1.token, h.Token)
}

func TestForceDeleteRequiresExactValue(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	key := "rangewatch-test:lock-force-delete"
	defer rdb.Del(ctx, key)

	l := New(rdb, key, 5*time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	holder, found, err := l.CurrentHolder(ctx)
	require.NoError(t, err)
	require.True(t, found)

	deleted, err := l.ForceDelete(ctx, "not-the-stored-value")
	require.NoError(t, err)
	require.False(t, deleted, "a mismatched value must not delete the lock")

	_, found, err = l.CurrentHolder(ctx)
	require.NoError(t, err)
	require.True(t, found, "lock must still be present after a failed ForceDelete")

	deleted, err = l.ForceDelete(ctx, holder.Raw)
	require.NoError(t, err)
	require.True(t, deleted)

	_, found, err = l.CurrentHolder(ctx)
	require.NoError(t, err)
	require.False(t, found)
}

func TestLockRefreshExtendsTTL(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	key := "rangewatch-test:lock-refresh"
	defer rdb.Del(ctx, key)

	l := New(rdb, key, 2*time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Refresh(ctx))
	ttl, err := rdb.TTL(ctx, key).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Second)
}
