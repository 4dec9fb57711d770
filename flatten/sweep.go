/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package flatten implements the sweep-line algorithm that turns a set
// of possibly-overlapping source ranges into the disjoint, payload-
// merged interval records the sorted interval index stores. It is pure:
// no I/O, no global state, so it can be fed directly by the loader or
// exercised standalone in tests.
package flatten

import (
	"sort"

	"github.com/rangewatch/rangewatch/tag"
)

// Input is one source range contributing to the sweep: a closed
// interval [Start, End] tagged with its metadata.
type Input struct {
	Start uint32
	End   uint32
	Tag   tag.Tag
}

// event is an interval endpoint converted to half-open form: a range
// [s, e] becomes an add event at s and a remove event at e+1, so the
// active set is simply "every tag added but not yet removed" at any
// swept position. Using int64 positions sidesteps uint32 overflow when
// e is ipnum.Max.
type event struct {
	pos    int64
	isEnd  bool // remove event; sorts after add events at the same pos
	key    string
	tag    tag.Tag
}

// Flatten runs the sweep over ins and returns the disjoint output
// records in ascending Start order (I1). Records with an identical
// exact tag set appearing in overlapping inputs are deduplicated by
// canonical JSON (I2); each returned record's payload groups tags by
// type (I3).
func Flatten(ins []Input) ([]tag.Record, error) {
	events := make([]event, 0, len(ins)*2)
	for _, in := range ins {
		key, err := in.Tag.CanonicalJSON()
		if err != nil {
			return nil, err
		}
		events = append(events,
			event{pos: int64(in.Start), isEnd: false, key: key, tag: in.Tag},
			event{pos: int64(in.End) + 1, isEnd: true, key: key, tag: in.Tag},
		)
	}
	sort.Slice(events, func(i, j int) bool {
		if events[i].pos != events[j].pos {
			return events[i].pos < events[j].pos
		}
		// starts before ends at a tied coordinate, so a range ending at
		// n and another beginning at n both contribute to position n's
		// active set correctly (the end's removal applies at e+1, so
		// genuine ties here are between one range's start and another's
		// removal landing on the same coordinate by coincidence).
		return !events[i].isEnd && events[j].isEnd
	})

	active := map[string]*activeEntry{}
	var records []tag.Record

	i := 0
	for i < len(events) {
		pos := events[i].pos
		for i < len(events) && events[i].pos == pos {
			e := events[i]
			if e.isEnd {
				if ent, ok := active[e.key]; ok {
					ent.count--
					if ent.count == 0 {
						delete(active, e.key)
					}
				}
			} else {
				if ent, ok := active[e.key]; ok {
					ent.count++
				} else {
					active[e.key] = &activeEntry{tag: e.tag, count: 1}
				}
			}
			i++
		}

		if len(active) == 0 {
			continue
		}
		var next int64 = 1<<63 - 1
		if i < len(events) {
			next = events[i].pos
		}
		start := uint32(pos)
		end := uint32(next - 1)

		payload := tag.Payload{}
		for _, ent := range active {
			payload.Add(ent.tag)
		}
		records = append(records, tag.Record{Start: start, End: end, Payload: payload})
	}
	return records, nil
}

type activeEntry struct {
	tag   tag.Tag
	count int
}
