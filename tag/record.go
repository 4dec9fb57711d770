/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tag

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record is a flattened, disjoint output interval: a triple (Start,
// End, Payload) satisfying spec.md's invariants I1-I3.
type Record struct {
	Start   uint32
	End     uint32
	Payload Payload
}

// Member renders a Record as the index member string the loader
// publishes to the sorted interval index (spec.md §6):
//
//	"<start_int>|<end_int>|<payload_json>"
//
// Its score in the index is always End (I4).
func (r Record) Member() (string, error) {
	pj, err := json.Marshal(r.Payload)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d|%d|%s", r.Start, r.End, pj), nil
}

// ParseMember is the inverse of Member (spec.md R2: serialize then
// parse yields the original triple).
func ParseMember(member string) (Record, error) {
	first := strings.IndexByte(member, '|')
	if first < 0 {
		return Record{}, ErrMalformedLine
	}
	rest := member[first+1:]
	second := strings.IndexByte(rest, '|')
	if second < 0 {
		return Record{}, ErrMalformedLine
	}
	startS := member[:first]
	endS := rest[:second]
	payloadJSON := rest[second+1:]

	s64, err := strconv.ParseUint(startS, 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: start %q: %v", ErrMalformedLine, startS, err)
	}
	e64, err := strconv.ParseUint(endS, 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: end %q: %v", ErrMalformedLine, endS, err)
	}

	var p Payload
	if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
		return Record{}, fmt.Errorf("%w: payload json: %v", ErrMalformedLine, err)
	}

	return Record{Start: uint32(s64), End: uint32(e64), Payload: p}, nil
}

// Contains reports whether q lies within [Start, End].
func (r Record) Contains(q uint32) bool {
	return q >= r.Start && q <= r.End
}
