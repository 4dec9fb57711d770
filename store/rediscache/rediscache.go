/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rediscache implements store.Cache on Redis string keys with
// TTLs, using the literal string "null" as the negative-cache marker.
package rediscache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// nullMarker is the cached value stored for a confirmed miss. It can
// never collide with a real payload, which is always a JSON object
// starting with '{'.
var nullMarker = []byte("null")

// Cache is a store.Cache backed by Redis.
type Cache struct {
	rdb    redis.UniversalClient
	prefix string
}

// New returns a Cache that namespaces every key under prefix (e.g. the
// configured key prefix plus ":cache:").
func New(rdb redis.UniversalClient, prefix string) *Cache {
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

func (c *Cache) Get(ctx context.Context, key string) (value []byte, found, isNull bool, err error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, false, nil
	}
	if err != nil {
		return nil, false, false, err
	}
	if string(b) == string(nullMarker) {
		return nil, true, true, nil
	}
	return b, true, false, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Cache) SetNull(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), nullMarker, ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

// Flush scans for and deletes every key under this cache's prefix. It
// uses SCAN rather than KEYS so a large cache doesn't block the Redis
// event loop on an update run's swap.
func (c *Cache) Flush(ctx context.Context) error {
	var cursor uint64
	pattern := c.prefix + "*"
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
