/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package store defines the sorted interval index abstraction rangewatch
// queries at lookup time and rebuilds on every update run, plus the
// result cache and distributed lock that sit alongside it. Two
// concrete backends implement Index: store/redisindex (a Redis sorted
// set) and store/boltindex (an embedded bbolt file).
package store

import (
	"context"
	"errors"

	"github.com/rangewatch/rangewatch/tag"
)

var (
	// ErrNotFound is returned by First when no member scores at or
	// above the query value.
	ErrNotFound = errors.New("store: no member found")
)

// Index is a sorted set of tag.Record members, each scored by its End
// (I4): the lookup engine finds the containing record for a query
// point q by asking for the lowest-scoring member with score >= q, then
// checking q against that member's Start.
type Index interface {
	// Insert adds one record under name.
	Insert(ctx context.Context, name string, r tag.Record) error

	// InsertBatch adds many records under name in one round trip.
	InsertBatch(ctx context.Context, name string, recs []tag.Record) error

	// First returns the lowest-scoring member of name with score >= q,
	// or ErrNotFound if none exists.
	First(ctx context.Context, name string, q uint32) (tag.Record, error)

	// Rename atomically replaces dst with src, so a freshly built index
	// can be swapped in for queries with no window where it's
	// half-built. The previous contents of dst, if any, are discarded.
	Rename(ctx context.Context, src, dst string) error

	// Card returns the number of members under name.
	Card(ctx context.Context, name string) (int64, error)

	// Delete removes name entirely (used to clean up an aborted
	// staging build).
	Delete(ctx context.Context, name string) error
}
