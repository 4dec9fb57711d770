/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lookup

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/dnsbl"
	"github.com/rangewatch/rangewatch/store/boltindex"
	"github.com/rangewatch/rangewatch/tag"
)

// memCache is a minimal in-process store.Cache for unit tests that
// don't need a real Redis instance.
type memCache struct {
	mtx   sync.Mutex
	vals  map[string][]byte
	nulls map[string]bool
}

func newMemCache() *memCache {
	return &memCache{vals: map[string][]byte{}, nulls: map[string]bool{}}
}

func (c *memCache) Get(ctx context.Context, key string) ([]byte, bool, bool, error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.nulls[key] {
		return nil, true, true, nil
	}
	if v, ok := c.vals[key]; ok {
		return v, true, false, nil
	}
	return nil, false, false, nil
}

func (c *memCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.nulls, key)
	c.vals[key] = value
	return nil
}

func (c *memCache) SetNull(ctx context.Context, key string, ttl time.Duration) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.vals, key)
	c.nulls[key] = true
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, key string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.vals, key)
	delete(c.nulls, key)
	return nil
}

func (c *memCache) Flush(ctx context.Context) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.vals = map[string][]byte{}
	c.nulls = map[string]bool{}
	return nil
}

func openTestIndex(t *testing.T) *boltindex.Index {
	t.Helper()
	idx, err := boltindex.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedIndex(t *testing.T, idx *boltindex.Index, name string, start, end uint32, source string) {
	t.Helper()
	p := tag.Payload{}
	p.Add(tag.Tag{"type": "denylist", "source": source})
	require.NoError(t, idx.Insert(context.Background(), name, tag.Record{Start: start, End: end, Payload: p}))
}

// startDNSBLServer runs a miekg/dns server answering with an A record
// for every question (a "listed" zone), or with RcodeNameError when
// listed is false.
func startDNSBLServer(t *testing.T, listed bool) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(req)
		if !listed {
			m.Rcode = dns.RcodeNameError
			w.WriteMsg(m)
			return
		}
		m.Rcode = dns.RcodeSuccess
		rr, err := dns.NewRR(req.Question[0].Name + " 300 IN A 127.0.0.2")
		require.NoError(t, err)
		m.Answer = append(m.Answer, rr)
		w.WriteMsg(m)
	})}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })
	return pc.LocalAddr().String()
}

func TestLookupHit(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx, "live", 10, 20, "feedA")

	e := New(idx, "live")
	p, err := e.Lookup(context.Background(), "0.0.0.15", false)
	require.NoError(t, err)
	require.Contains(t, p, "denylist")
}

func TestLookupMiss(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx, "live", 10, 20, "feedA")

	e := New(idx, "live")
	_, err := e.Lookup(context.Background(), "0.0.0.99", false)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupInvalidAddress(t *testing.T) {
	idx := openTestIndex(t)
	e := New(idx, "live")
	_, err := e.Lookup(context.Background(), "garbage", false)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLookupUsesCacheOnSecondCall(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx, "live", 10, 20, "feedA")
	cache := newMemCache()

	e := New(idx, "live", WithCache(cache))
	_, err := e.Lookup(context.Background(), "0.0.0.15", false)
	require.NoError(t, err)

	require.NoError(t, idx.Delete(context.Background(), "live"))

	p, err := e.Lookup(context.Background(), "0.0.0.15", false)
	require.NoError(t, err)
	require.Contains(t, p, "denylist")
}

func TestLookupCachesNegativeResult(t *testing.T) {
	idx := openTestIndex(t)
	cache := newMemCache()
	e := New(idx, "live", WithCache(cache))

	_, err := e.Lookup(context.Background(), "0.0.0.1", false)
	require.ErrorIs(t, err, ErrNotFound)

	_, found, isNull, err := cache.Get(context.Background(), "0.0.0.1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, isNull)
}

func TestBatchLookup(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx, "live", 10, 20, "feedA")
	seedIndex(t, idx, "live", 30, 40, "feedB")

	e := New(idx, "live")
	out, err := e.BatchLookup(context.Background(), []string{"0.0.0.15", "0.0.0.99", "0.0.0.35"}, 4, false)
	require.NoError(t, err)
	require.Len(t, out, 3)
	require.NotNil(t, out[0])
	require.Nil(t, out[1])
	require.NotNil(t, out[2])
}

// TestLookupWithoutDNSBLFlagNeverQueriesResolver confirms a resolver
// attached via WithDNSBL is inert unless a call opts in, per spec.md
// §4.E's Lookup(ip_string, include_external_dnsbl=false) signature.
func TestLookupWithoutDNSBLFlagNeverQueriesResolver(t *testing.T) {
	idx := openTestIndex(t)
	addr := startDNSBLServer(t, true)
	resolver, err := dnsbl.New("zen.spamhaus.org", []string{addr}, "spamhaus")
	require.NoError(t, err)

	e := New(idx, "live", WithDNSBL(resolver))
	_, err = e.Lookup(context.Background(), "0.0.0.99", false)
	require.ErrorIs(t, err, ErrNotFound)
}

// TestLookupDNSBLMergesIntoIndexMiss exercises spec.md §4.E step 6: an
// address absent from the index but listed in the DNSBL still resolves
// when includeDNSBL is true.
func TestLookupDNSBLMergesIntoIndexMiss(t *testing.T) {
	idx := openTestIndex(t)
	addr := startDNSBLServer(t, true)
	resolver, err := dnsbl.New("zen.spamhaus.org", []string{addr}, "spamhaus")
	require.NoError(t, err)

	e := New(idx, "live", WithDNSBL(resolver))
	p, err := e.Lookup(context.Background(), "0.0.0.99", true)
	require.NoError(t, err)
	require.Contains(t, p, "dnsbl")
}

// TestLookupDNSBLMergesIntoIndexHit confirms a DNSBL tag is folded into
// an already-found index payload rather than discarded, since the
// DNSBL probe is no longer just a fallback for a miss.
func TestLookupDNSBLMergesIntoIndexHit(t *testing.T) {
	idx := openTestIndex(t)
	seedIndex(t, idx, "live", 10, 20, "feedA")
	addr := startDNSBLServer(t, true)
	resolver, err := dnsbl.New("zen.spamhaus.org", []string{addr}, "spamhaus")
	require.NoError(t, err)

	e := New(idx, "live", WithDNSBL(resolver))
	p, err := e.Lookup(context.Background(), "0.0.0.15", true)
	require.NoError(t, err)
	require.Contains(t, p, "denylist")
	require.Contains(t, p, "dnsbl")
}

// TestLookupDNSBLCacheKeyDiffersFromPlainLookup confirms the two modes
// never collide in the cache namespace (spec.md §4.E/§4.G's [:dronebl]
// suffix): caching a DNSBL-inclusive miss must not poison a later
// plain lookup for the same address once the index catches up.
func TestLookupDNSBLCacheKeyDiffersFromPlainLookup(t *testing.T) {
	idx := openTestIndex(t)
	cache := newMemCache()
	addr := startDNSBLServer(t, false)
	resolver, err := dnsbl.New("zen.spamhaus.org", []string{addr}, "spamhaus")
	require.NoError(t, err)

	e := New(idx, "live", WithCache(cache), WithDNSBL(resolver))

	_, err = e.Lookup(context.Background(), "0.0.0.50", true)
	require.ErrorIs(t, err, ErrNotFound)

	seedIndex(t, idx, "live", 40, 60, "feedA")

	p, err := e.Lookup(context.Background(), "0.0.0.50", false)
	require.NoError(t, err)
	require.Contains(t, p, "denylist")
}
