/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package dnsbl probes a DNS blackhole list zone for an IPv4 address
// using the standard reversed-octet A-record convention
// (e.g. 4.3.2.1.zen.spamhaus.org for 1.2.3.4), as a lookup augmentation
// that the lookup engine runs alongside the local index query and
// merges into its result.
package dnsbl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/rangewatch/rangewatch/ipnum"
	"github.com/rangewatch/rangewatch/tag"
)

var (
	// ErrNotListed is returned when the zone has no A record for the
	// address: a confirmed negative, not a query failure.
	ErrNotListed = errors.New("dnsbl: address is not listed")
)

const defaultTimeout = 2 * time.Second

// Resolver queries one DNSBL zone against one or more recursive
// nameservers.
type Resolver struct {
	zone    string
	servers []string
	client  *dns.Client
	source  string
}

// New returns a Resolver for zone (e.g. "zen.spamhaus.org") using
// servers as the recursive nameservers to query, tried in the order
// given and moving on to the next after a failure. source is stamped into the tag.Tag the resolver
// synthesizes for a hit.
func New(zone string, servers []string, source string) (*Resolver, error) {
	if zone == `` {
		return nil, errors.New("dnsbl: zone is required")
	}
	if len(servers) == 0 {
		return nil, errors.New("dnsbl: at least one nameserver is required")
	}
	return &Resolver{
		zone:    strings.TrimSuffix(zone, "."),
		servers: servers,
		source:  source,
		client: &dns.Client{
			Net:          "udp",
			DialTimeout:  defaultTimeout,
			ReadTimeout:  defaultTimeout,
			WriteTimeout: defaultTimeout,
		},
	}, nil
}

// Check queries the zone for ipStr, trying each configured server in
// turn until one answers. It returns ErrNotListed as soon as a server
// answers NXDOMAIN or with no A record; if no server answers, it
// returns the last query error.
func (r *Resolver) Check(ctx context.Context, ipStr string) (tag.Payload, error) {
	q, err := ipnum.ToInt(ipStr)
	if err != nil {
		return nil, fmt.Errorf("dnsbl: %w", err)
	}
	name := reverseQueryName(q, r.zone)

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, _, err := r.client.ExchangeContext(ctx, m, addrWithPort(server))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, ErrNotListed
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dnsbl: %s answered rcode %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		if !hasARecord(resp) {
			return nil, ErrNotListed
		}
		p := tag.Payload{}
		p.Add(tag.Tag{"type": "dnsbl", "source": r.source, "zone": r.zone})
		return p, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNotListed
}

func hasARecord(resp *dns.Msg) bool {
	for _, rr := range resp.Answer {
		if _, ok := rr.(*dns.A); ok {
			return true
		}
	}
	return false
}

// reverseQueryName builds the reversed-octet query name for q under
// zone, e.g. 1.2.3.4 under "zen.spamhaus.org" becomes
// "4.3.2.1.zen.spamhaus.org".
func reverseQueryName(q uint32, zone string) string {
	a := byte(q >> 24)
	b := byte(q >> 16)
	c := byte(q >> 8)
	d := byte(q)
	return fmt.Sprintf("%d.%d.%d.%d.%s", d, c, b, a, zone)
}

func addrWithPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
