/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lookup implements the read path: given a query IPv4 address,
// find the containing interval record in the live store.Index, folding
// in an optional DNSBL probe and a result cache so a hot address
// doesn't repeat the full index query on every request.
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rangewatch/rangewatch/dnsbl"
	"github.com/rangewatch/rangewatch/ipnum"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

var (
	// ErrInvalid is returned for a query string that isn't a valid
	// IPv4 address.
	ErrInvalid = errors.New("lookup: not a valid IPv4 address")

	// ErrNotFound is returned when the address falls in no indexed
	// range and no DNSBL probe (if configured) matches either.
	ErrNotFound = errors.New("lookup: address not found in any source")
)

const defaultCacheTTL = 48 * time.Hour

// Engine answers lookups against one live index name, optionally
// consulting a result cache and a DNSBL resolver.
type Engine struct {
	idx       store.Index
	indexName string
	cache     store.Cache
	cacheTTL  time.Duration
	dnsbl     *dnsbl.Resolver
	lg        *log.Logger

	sf singleflight.Group
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithCache attaches a result cache.
func WithCache(c store.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithCacheTTL overrides the default cache entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cacheTTL = ttl }
}

// WithDNSBL attaches a DNSBL resolver available for Lookup calls that
// opt into it; a resolver configured here is never queried unless a
// call passes includeDNSBL true.
func WithDNSBL(r *dnsbl.Resolver) Option {
	return func(e *Engine) { e.dnsbl = r }
}

// WithLogger attaches a logger for miss/hit diagnostics.
func WithLogger(lg *log.Logger) Option {
	return func(e *Engine) { e.lg = lg }
}

// New returns an Engine querying idx under indexName.
func New(idx store.Index, indexName string, opts ...Option) *Engine {
	e := &Engine{idx: idx, indexName: indexName, cacheTTL: defaultCacheTTL}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Lookup resolves one IPv4 address to its tag.Payload. It first checks
// the result cache (if configured). On a miss, it queries the index
// and, if includeDNSBL is true and a resolver is configured, probes
// the DNSBL zone in parallel with the index query; any DNSBL tag is
// merged into the result rather than treated as a fallback, so an
// address already present in the index still picks up a "dnsbl" tag
// when one is found. Concurrent Lookups for the same (address,
// includeDNSBL) pair are collapsed via singleflight, so a burst of
// requests for one hot address only ever does one round trip.
func (e *Engine) Lookup(ctx context.Context, ipStr string, includeDNSBL bool) (tag.Payload, error) {
	if _, err := ipnum.ToInt(ipStr); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, ipStr)
	}

	v, err, _ := e.sf.Do(sfKey(ipStr, includeDNSBL), func() (interface{}, error) {
		return e.lookupUncollapsed(ctx, ipStr, includeDNSBL)
	})
	if err != nil {
		return nil, err
	}
	return v.(tag.Payload), nil
}

// sfKey and cacheKey share the same [:dronebl] suffix convention
// (spec.md §4.E/§4.G) so a DNSBL-inclusive and non-inclusive result for
// the same address never collapse into, or evict, one another.
func sfKey(ipStr string, includeDNSBL bool) string {
	if includeDNSBL {
		return ipStr + ":dronebl"
	}
	return ipStr
}

func (e *Engine) lookupUncollapsed(ctx context.Context, ipStr string, includeDNSBL bool) (tag.Payload, error) {
	cacheKey := sfKey(ipStr, includeDNSBL)
	runDNSBL := includeDNSBL && e.dnsbl != nil

	if e.cache != nil {
		if p, hit, err := e.getCached(ctx, cacheKey); err != nil {
			if e.lg != nil {
				e.lg.Warnf("lookup: cache read failed for %s: %v", cacheKey, err)
			}
		} else if hit {
			if p == nil {
				return nil, ErrNotFound
			}
			return p, nil
		}
	}

	var indexPayload, dnsblPayload tag.Payload
	var indexErr, dnsblErr error

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		indexPayload, indexErr = e.queryIndex(ctx, ipStr)
	}()
	if runDNSBL {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dnsblPayload, dnsblErr = e.dnsbl.Check(ctx, ipStr)
		}()
	}
	wg.Wait()

	if indexErr != nil && !errors.Is(indexErr, ErrNotFound) {
		return nil, indexErr
	}
	if runDNSBL && dnsblErr != nil && !errors.Is(dnsblErr, dnsbl.ErrNotListed) && e.lg != nil {
		e.lg.Warnf("lookup: dnsbl check failed for %s: %v", ipStr, dnsblErr)
	}

	var merged tag.Payload
	if indexErr == nil {
		merged = mergePayloads(merged, indexPayload)
	}
	if runDNSBL && dnsblErr == nil {
		merged = mergePayloads(merged, dnsblPayload)
	}

	if len(merged) == 0 {
		e.putCachedMiss(ctx, cacheKey)
		return nil, ErrNotFound
	}
	e.putCached(ctx, cacheKey, merged)
	return merged, nil
}

// mergePayloads combines a and b's tag lists by type, favoring neither
// - it's used to fold a DNSBL hit into an index hit (or stand on its
// own when the index missed), per spec.md §4.E step 6.
func mergePayloads(a, b tag.Payload) tag.Payload {
	out := tag.Payload{}
	for _, typ := range a.SortedTypes() {
		out[typ] = append(out[typ], a[typ]...)
	}
	for _, typ := range b.SortedTypes() {
		out[typ] = append(out[typ], b[typ]...)
	}
	return out
}

func (e *Engine) queryIndex(ctx context.Context, ipStr string) (tag.Payload, error) {
	q, err := ipnum.ToInt(ipStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, ipStr)
	}
	rec, err := e.idx.First(ctx, e.indexName, q)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !rec.Contains(q) {
		return nil, ErrNotFound
	}
	return rec.Payload, nil
}

func (e *Engine) getCached(ctx context.Context, ipStr string) (tag.Payload, bool, error) {
	b, found, isNull, err := e.cache.Get(ctx, ipStr)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if isNull {
		return nil, true, nil
	}
	var p tag.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (e *Engine) putCached(ctx context.Context, ipStr string, p tag.Payload) {
	if e.cache == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	_ = e.cache.Set(ctx, ipStr, b, e.cacheTTL)
}

func (e *Engine) putCachedMiss(ctx context.Context, ipStr string) {
	if e.cache == nil {
		return
	}
	_ = e.cache.SetNull(ctx, ipStr, e.cacheTTL)
}

// BatchLookup resolves many addresses concurrently, fanning out via an
// errgroup bounded by concurrency (0 means unbounded). The returned
// slice is in the same order as ips; an entry is nil if that address
// matched nothing (ErrNotFound or ErrInvalid), and the first other
// error aborts the whole batch. includeDNSBL applies to every address
// in the batch.
func (e *Engine) BatchLookup(ctx context.Context, ips []string, concurrency int, includeDNSBL bool) ([]tag.Payload, error) {
	out := make([]tag.Payload, len(ips))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, ipStr := range ips {
		i, ipStr := i, ipStr
		g.Go(func() error {
			p, err := e.Lookup(gctx, ipStr, includeDNSBL)
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
