/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package boltindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func rec(start, end uint32, source string) tag.Record {
	p := tag.Payload{}
	p.Add(tag.Tag{"type": "denylist", "source": source})
	return tag.Record{Start: start, End: end, Payload: p}
}

func TestBoltIndexInsertAndFirst(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	require.NoError(t, idx.InsertBatch(ctx, "staging", []tag.Record{
		rec(10, 20, "a"),
		rec(30, 40, "b"),
	}))

	got, err := idx.First(ctx, "staging", 15)
	require.NoError(t, err)
	require.Equal(t, uint32(10), got.Start)
	require.Equal(t, uint32(20), got.End)

	got, err = idx.First(ctx, "staging", 25)
	require.NoError(t, err)
	require.Equal(t, uint32(30), got.Start)

	_, err = idx.First(ctx, "staging", 41)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBoltIndexCard(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	require.NoError(t, idx.InsertBatch(ctx, "staging", []tag.Record{rec(1, 2, "a"), rec(3, 4, "b")}))
	n, err := idx.Card(ctx, "staging")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestBoltIndexRenameSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)

	require.NoError(t, idx.InsertBatch(ctx, "live", []tag.Record{rec(1, 2, "old")}))
	require.NoError(t, idx.InsertBatch(ctx, "staging", []tag.Record{rec(10, 20, "new")}))

	require.NoError(t, idx.Rename(ctx, "staging", "live"))

	got, err := idx.First(ctx, "live", 15)
	require.NoError(t, err)
	require.Equal(t, uint32(10), got.Start)

	n, err := idx.Card(ctx, "staging")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestBoltIndexDelete(t *testing.T) {
	ctx := context.Background()
	idx := openTestIndex(t)
	require.NoError(t, idx.InsertBatch(ctx, "staging", []tag.Record{rec(1, 2, "a")}))
	require.NoError(t, idx.Delete(ctx, "staging"))
	n, err := idx.Card(ctx, "staging")
	require.NoError(t, err)
	require.Zero(t, n)
}
