/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package load

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/store/boltindex"
	"github.com/rangewatch/rangewatch/tag"
)

// writeMerged writes a merged.csv-shaped file, prefixed with the
// mandatory header line, so callers only supply data lines.
func writeMerged(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged.csv")
	content := tag.MergedCSVHeader + "\n"
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeMergedNoHeader writes a merged.csv-shaped file with no header,
// for exercising the missing-header failure path directly (bypassing
// anything merge.Merge itself would have caught).
func writeMergedNoHeader(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merged.csv")
	var content string
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func openIndex(t *testing.T) *boltindex.Index {
	t.Helper()
	idx, err := boltindex.Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func encode(t *testing.T, start, end uint32, tg tag.Tag) string {
	t.Helper()
	ln, err := tag.EncodeLine(start, end, tg)
	require.NoError(t, err)
	return ln
}

func TestLoadPublishesAndSwaps(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)

	merged := writeMerged(t,
		encode(t, 10, 20, tag.Tag{"type": "denylist", "source": "feedA"}),
		encode(t, 15, 25, tag.Tag{"type": "denylist", "source": "feedB"}),
	)

	res, err := Load(ctx, nil, idx, merged, "staging", "live")
	require.NoError(t, err)
	require.Equal(t, 2, res.InputLines)
	require.Greater(t, res.RecordCount, 0)

	got, err := idx.First(ctx, "live", 12)
	require.NoError(t, err)
	require.Equal(t, uint32(10), got.Start)

	n, err := idx.Card(ctx, "staging")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoadPreservesLiveOnMalformedInput(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)

	good := writeMerged(t, encode(t, 1, 2, tag.Tag{"type": "denylist", "source": "feedA"}))
	_, err := Load(ctx, nil, idx, good, "staging", "live")
	require.NoError(t, err)

	bad := writeMerged(t, "not-a-valid-line")
	_, err = Load(ctx, nil, idx, bad, "staging", "live")
	require.Error(t, err)

	got, err := idx.First(ctx, "live", 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), got.Start)

	n, err := idx.Card(ctx, "staging")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestLoadEmptyMergedFileErrors(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	path := writeMerged(t)
	_, err := Load(ctx, nil, idx, path, "staging", "live")
	require.Error(t, err)
}

func TestLoadMissingHeaderErrors(t *testing.T) {
	ctx := context.Background()
	idx := openIndex(t)
	path := writeMergedNoHeader(t, encode(t, 1, 2, tag.Tag{"type": "denylist", "source": "feedA"}))
	_, err := Load(ctx, nil, idx, path, "staging", "live")
	require.ErrorIs(t, err, ErrMissingHeader)
}
