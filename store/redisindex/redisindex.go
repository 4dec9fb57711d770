/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package redisindex implements store.Index on top of a Redis sorted
// set: one ZADD per record, scored by End, with ZRANGEBYSCORE doing the
// "lowest member with score >= q" query in one round trip.
package redisindex

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

const insertBatchSize = 100_000

// Index is a store.Index backed by a redis.UniversalClient. Every
// method's name argument becomes the Redis key (prefixed by the caller,
// typically with the configured key prefix).
type Index struct {
	rdb redis.UniversalClient
}

// New wraps an existing client. The caller owns its lifecycle.
func New(rdb redis.UniversalClient) *Index {
	return &Index{rdb: rdb}
}

func (x *Index) Insert(ctx context.Context, name string, r tag.Record) error {
	member, err := r.Member()
	if err != nil {
		return err
	}
	return x.rdb.ZAdd(ctx, name, redis.Z{Score: float64(r.End), Member: member}).Err()
}

func (x *Index) InsertBatch(ctx context.Context, name string, recs []tag.Record) error {
	for start := 0; start < len(recs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		batch := make([]redis.Z, 0, end-start)
		for _, r := range recs[start:end] {
			member, err := r.Member()
			if err != nil {
				return err
			}
			batch = append(batch, redis.Z{Score: float64(r.End), Member: member})
		}
		if len(batch) == 0 {
			continue
		}
		if err := x.rdb.ZAdd(ctx, name, batch...).Err(); err != nil {
			return fmt.Errorf("inserting batch [%d,%d): %w", start, end, err)
		}
	}
	return nil
}

func (x *Index) First(ctx context.Context, name string, q uint32) (tag.Record, error) {
	members, err := x.rdb.ZRangeByScore(ctx, name, &redis.ZRangeBy{
		Min:    fmt.Sprintf("%d", q),
		Max:    "+inf",
		Offset: 0,
		Count:  1,
	}).Result()
	if err != nil {
		return tag.Record{}, err
	}
	if len(members) == 0 {
		return tag.Record{}, store.ErrNotFound
	}
	return tag.ParseMember(members[0])
}

func (x *Index) Rename(ctx context.Context, src, dst string) error {
	if err := x.rdb.Rename(ctx, src, dst).Err(); err != nil {
		return fmt.Errorf("renaming %q to %q: %w", src, dst, err)
	}
	return nil
}

func (x *Index) Card(ctx context.Context, name string) (int64, error) {
	return x.rdb.ZCard(ctx, name).Result()
}

func (x *Index) Delete(ctx context.Context, name string) error {
	return x.rdb.Del(ctx, name).Err()
}
