/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package flatten

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/ipnum"
	"github.com/rangewatch/rangewatch/tag"
)

func findCovering(t *testing.T, recs []tag.Record, q uint32) *tag.Record {
	t.Helper()
	for i := range recs {
		if recs[i].Contains(q) {
			return &recs[i]
		}
	}
	return nil
}

func TestFlattenDisjointNonOverlapping(t *testing.T) {
	recs, err := Flatten([]Input{
		{Start: 10, End: 20, Tag: tag.Tag{"type": "denylist", "source": "a"}},
		{Start: 30, End: 40, Tag: tag.Tag{"type": "denylist", "source": "b"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint32(10), recs[0].Start)
	require.Equal(t, uint32(20), recs[0].End)
	require.Equal(t, uint32(30), recs[1].Start)
	require.Equal(t, uint32(40), recs[1].End)

	for i := 1; i < len(recs); i++ {
		require.Less(t, recs[i-1].End, recs[i].Start)
	}
}

func TestFlattenOverlappingMergesPayload(t *testing.T) {
	a := tag.Tag{"type": "denylist", "source": "a"}
	b := tag.Tag{"type": "denylist", "source": "b"}
	recs, err := Flatten([]Input{
		{Start: 10, End: 30, Tag: a},
		{Start: 20, End: 40, Tag: b},
	})
	require.NoError(t, err)

	mid := findCovering(t, recs, 25)
	require.NotNil(t, mid)
	require.Len(t, mid.Payload["denylist"], 2)

	left := findCovering(t, recs, 15)
	require.NotNil(t, left)
	require.Len(t, left.Payload["denylist"], 1)

	right := findCovering(t, recs, 35)
	require.NotNil(t, right)
	require.Len(t, right.Payload["denylist"], 1)
}

func TestFlattenIdenticalTagDeduplicates(t *testing.T) {
	dup := tag.Tag{"type": "denylist", "source": "a", "name": "x"}
	recs, err := Flatten([]Input{
		{Start: 10, End: 30, Tag: dup},
		{Start: 20, End: 40, Tag: dup.Clone()},
	})
	require.NoError(t, err)

	mid := findCovering(t, recs, 25)
	require.NotNil(t, mid)
	require.Len(t, mid.Payload["denylist"], 1)
}

func TestFlattenBoundaryZeroAndMax(t *testing.T) {
	recs, err := Flatten([]Input{
		{Start: 0, End: 0, Tag: tag.Tag{"type": "denylist", "source": "a"}},
		{Start: ipnum.Max, End: ipnum.Max, Tag: tag.Tag{"type": "denylist", "source": "b"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	zero := findCovering(t, recs, 0)
	require.NotNil(t, zero)
	require.Equal(t, uint32(0), zero.Start)
	require.Equal(t, uint32(0), zero.End)

	top := findCovering(t, recs, ipnum.Max)
	require.NotNil(t, top)
	require.Equal(t, ipnum.Max, top.Start)
	require.Equal(t, ipnum.Max, top.End)
}

func TestFlattenAdjacentRangesStayDisjoint(t *testing.T) {
	recs, err := Flatten([]Input{
		{Start: 10, End: 19, Tag: tag.Tag{"type": "denylist", "source": "a"}},
		{Start: 20, End: 29, Tag: tag.Tag{"type": "denylist", "source": "b"}},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, uint32(19), recs[0].End)
	require.Equal(t, uint32(20), recs[1].Start)
}

func TestFlattenEmptyInput(t *testing.T) {
	recs, err := Flatten(nil)
	require.NoError(t, err)
	require.Empty(t, recs)
}
