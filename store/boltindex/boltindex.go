/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package boltindex implements store.Index on an embedded bbolt file:
// one bucket per named index, keys are the record's score (End) as an
// 8-byte big-endian prefix followed by the member bytes (for
// uniqueness among same-scored members), so bbolt's natural byte-order
// key iteration does the "lowest member with score >= q" query via a
// single cursor Seek.
package boltindex

import (
	"context"
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

// Index is a store.Index backed by a single bbolt database file. It is
// safe for concurrent use; bbolt serializes writers and lets readers
// run against a consistent snapshot.
type Index struct {
	db *bolt.DB
}

// Open opens (creating if needed) the bbolt file at path.
func Open(path string) (*Index, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &Index{db: db}, nil
}

// Close closes the underlying database file.
func (x *Index) Close() error {
	return x.db.Close()
}

func scoreKey(score uint32, member []byte) []byte {
	k := make([]byte, 8+len(member))
	binary.BigEndian.PutUint64(k[:8], uint64(score))
	copy(k[8:], member)
	return k
}

func (x *Index) Insert(ctx context.Context, name string, r tag.Record) error {
	return x.InsertBatch(ctx, name, []tag.Record{r})
}

func (x *Index) InsertBatch(ctx context.Context, name string, recs []tag.Record) error {
	return x.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return err
		}
		for _, r := range recs {
			member, err := r.Member()
			if err != nil {
				return err
			}
			if err := b.Put(scoreKey(r.End, []byte(member)), []byte(member)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (x *Index) First(ctx context.Context, name string, q uint32) (rec tag.Record, err error) {
	seek := make([]byte, 8)
	binary.BigEndian.PutUint64(seek, uint64(q))

	err = x.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return store.ErrNotFound
		}
		c := b.Cursor()
		k, v := c.Seek(seek)
		if k == nil {
			return store.ErrNotFound
		}
		r, perr := tag.ParseMember(string(v))
		if perr != nil {
			return perr
		}
		rec = r
		return nil
	})
	return
}

// Rename replaces dst's bucket with src's, deleting dst's prior
// contents and src itself, all inside one bbolt write transaction so
// readers never observe a partial swap.
func (x *Index) Rename(ctx context.Context, src, dst string) error {
	return x.db.Update(func(tx *bolt.Tx) error {
		srcB := tx.Bucket([]byte(src))
		if srcB == nil {
			return store.ErrNotFound
		}
		if tx.Bucket([]byte(dst)) != nil {
			if err := tx.DeleteBucket([]byte(dst)); err != nil {
				return err
			}
		}
		dstB, err := tx.CreateBucket([]byte(dst))
		if err != nil {
			return err
		}
		if err := srcB.ForEach(func(k, v []byte) error {
			return dstB.Put(k, v)
		}); err != nil {
			return err
		}
		return tx.DeleteBucket([]byte(src))
	})
}

func (x *Index) Card(ctx context.Context, name string) (int64, error) {
	var n int64
	err := x.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(name))
		if b == nil {
			return nil
		}
		n = int64(b.Stats().KeyN)
		return nil
	})
	return n, err
}

func (x *Index) Delete(ctx context.Context, name string) error {
	return x.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(name))
	})
}
