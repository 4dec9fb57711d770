/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package ipnum converts between dotted-quad IPv4 strings and the
// unsigned 32-bit integer space the rest of rangewatch operates in, and
// expands CIDR blocks into closed [first_host, last_host] intervals.
package ipnum

import (
	"encoding/binary"
	"errors"
	"net"
)

const (
	// Max is the largest representable IPv4 integer, 255.255.255.255.
	Max uint32 = 0xffffffff
)

var (
	ErrInvalidIPv4 = errors.New("not a valid dotted-quad IPv4 address")
	ErrInvalidCIDR = errors.New("not a valid IPv4 CIDR")
	ErrIsIPv6      = errors.New("address is IPv6, not indexed")
)

// ToInt converts a dotted-quad IPv4 string to its big-endian uint32 form.
// It rejects IPv6 literals (ErrIsIPv6) and anything else unparseable
// (ErrInvalidIPv4).
func ToInt(s string) (uint32, error) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, ErrInvalidIPv4
	}
	v4 := ip.To4()
	if v4 == nil {
		if ip.To16() != nil {
			return 0, ErrIsIPv6
		}
		return 0, ErrInvalidIPv4
	}
	return binary.BigEndian.Uint32(v4), nil
}

// ToString renders a uint32 back to dotted-quad form. ToString(ToInt(s))
// round-trips for every valid IPv4 s (R1 in the spec).
func ToString(v uint32) string {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return net.IP(b).String()
}

// Interval is a closed range [Start, End] in the uint32 IPv4 space.
type Interval struct {
	Start uint32
	End   uint32
}

// CIDRToInterval expands an IPv4 CIDR string ("10.0.0.0/24") or a bare
// host ("1.1.1.1", treated as a /32) into its closed interval.
func CIDRToInterval(s string) (Interval, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		// not CIDR notation; try as a bare address
		v, ierr := ToInt(s)
		if ierr != nil {
			return Interval{}, err
		}
		return Interval{Start: v, End: v}, nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return Interval{}, ErrIsIPv6
	}
	ones, bits := ipnet.Mask.Size()
	if bits != 32 {
		return Interval{}, ErrIsIPv6
	}
	base := binary.BigEndian.Uint32(ipnet.IP.To4())
	if ones == 32 {
		return Interval{Start: base, End: base}, nil
	}
	hostBits := uint(32 - ones)
	size := uint32(1) << hostBits
	return Interval{Start: base, End: base + size - 1}, nil
}
