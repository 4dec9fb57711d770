/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rediscache

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

func TestCacheSetGet(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	c := New(rdb, "rangewatch-test:cache:")
	defer c.Flush(ctx)

	require.NoError(t, c.Set(ctx, "1.2.3.4", []byte(`{"denylist":[]}`), time.Minute))

	v, found, isNull, err := c.Get(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, isNull)
	require.Equal(t, `{"denylist":[]}`, string(v))
}

func TestCacheNullMarker(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	c := New(rdb, "rangewatch-test:cache:")
	defer c.Flush(ctx)

	require.NoError(t, c.SetNull(ctx, "8.8.8.8", time.Minute))
	_, found, isNull, err := c.Get(ctx, "8.8.8.8")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, isNull)
}

func TestCacheMissAndInvalidate(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	c := New(rdb, "rangewatch-test:cache:")
	defer c.Flush(ctx)

	_, found, _, err := c.Get(ctx, "nope")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, c.Set(ctx, "x", []byte("y"), time.Minute))
	require.NoError(t, c.Invalidate(ctx, "x"))
	_, found, _, err = c.Get(ctx, "x")
	require.NoError(t, err)
	require.False(t, found)
}

func TestCacheFlush(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	c := New(rdb, "rangewatch-test:cache:")

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, c.Flush(ctx))

	_, found, _, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, found)
}
