/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package store

import (
	"context"
	"time"
)

// Cache is the lookup engine's result cache: a TTL-bounded key/value
// store keyed by the query IP, holding either a hit's serialized
// tag.Payload or a null marker recording a confirmed miss (so a
// hot, frequently-queried non-member address doesn't repeat a full
// index lookup every time).
type Cache interface {
	// Get returns the cached value for key. found is false if the key
	// is absent or expired; isNull is true if the cached value is a
	// negative-cache marker rather than real payload bytes.
	Get(ctx context.Context, key string) (value []byte, found, isNull bool, err error)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNull records a negative-cache entry for key, valid for ttl.
	SetNull(ctx context.Context, key string, ttl time.Duration) error

	// Invalidate removes key immediately, regardless of its TTL.
	Invalidate(ctx context.Context, key string) error

	// Flush clears every cached entry under this cache's namespace. The
	// update coordinator calls this after an index swap when
	// Invalidate-Cache-On-Swap is enabled, rather than waiting for TTL
	// expiry to catch up with the new data.
	Flush(ctx context.Context) error
}
