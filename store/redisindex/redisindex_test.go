/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package redisindex

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

// requireRedis skips the test unless a reachable Redis instance is
// configured via RANGEWATCH_TEST_REDIS_ADDR; these tests exercise the
// real wire protocol rather than a mock, so they only run where a
// broker is actually available (e.g. in CI alongside a redis service
// container).
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

func rec(start, end uint32, source string) tag.Record {
	p := tag.Payload{}
	p.Add(tag.Tag{"type": "denylist", "source": source})
	return tag.Record{Start: start, End: end, Payload: p}
}

func TestRedisIndexInsertAndFirst(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	idx := New(rdb)
	key := "rangewatch-test:insert-first"
	defer rdb.Del(ctx, key)

	require.NoError(t, idx.InsertBatch(ctx, key, []tag.Record{rec(10, 20, "a"), rec(30, 40, "b")}))

	got, err := idx.First(ctx, key, 15)
	require.NoError(t, err)
	require.Equal(t, uint32(10), got.Start)

	_, err = idx.First(ctx, key, 41)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRedisIndexRename(t *testing.T) {
	rdb := requireRedis(t)
	ctx := context.Background()
	idx := New(rdb)
	src := "rangewatch-test:rename-src"
	dst := "rangewatch-test:rename-dst"
	defer rdb.Del(ctx, src, dst)

	require.NoError(t, idx.Insert(ctx, src, rec(5, 9, "a")))
	require.NoError(t, idx.Rename(ctx, src, dst))

	got, err := idx.First(ctx, dst, 6)
	require.NoError(t, err)
	require.Equal(t, uint32(5), got.Start)

	n, err := idx.Card(ctx, src)
	require.NoError(t, err)
	require.Zero(t, n)
}
