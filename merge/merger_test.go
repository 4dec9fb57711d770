/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package merge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/tag"
)

func writeStaging(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+stagingSuffix), []byte(content), 0644))
}

// dataLine renders a well-formed canonical line, so tests that only
// care about ordering/rotation don't need to hand-write JSON payloads.
func dataLine(t *testing.T, start, end uint32, source string) string {
	t.Helper()
	ln, err := tag.EncodeLine(start, end, tag.Tag{"type": "denylist", "source": source})
	require.NoError(t, err)
	return ln
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	stagingDir := t.TempDir()
	mergedDir := t.TempDir()

	b1, b2, a1 := dataLine(t, 1, 2, "b1"), dataLine(t, 3, 4, "b2"), dataLine(t, 5, 6, "a1")
	writeStaging(t, stagingDir, "b_feed", b1+"\n"+b2+"\n")
	writeStaging(t, stagingDir, "a_feed", a1+"\n\n")

	path, n, err := Merge(stagingDir, mergedDir)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, tag.MergedCSVHeader+"\n"+a1+"\n"+b1+"\n"+b2+"\n", string(data))
}

func TestMergeNoStagingFiles(t *testing.T) {
	_, _, err := Merge(t.TempDir(), t.TempDir())
	require.ErrorIs(t, err, ErrNoStagingFiles)
}

func TestMergeRotatesPrevious(t *testing.T) {
	stagingDir := t.TempDir()
	mergedDir := t.TempDir()
	writeStaging(t, stagingDir, "feed", dataLine(t, 1, 2, "s1")+"\n")

	path, _, err := Merge(stagingDir, mergedDir)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	writeStaging(t, stagingDir, "feed", dataLine(t, 3, 4, "s2")+"\n")
	path2, _, err := Merge(stagingDir, mergedDir)
	require.NoError(t, err)
	require.Equal(t, path, path2)

	prev, err := os.ReadFile(path + backupSuffix)
	require.NoError(t, err)
	require.Equal(t, string(first), string(prev))

	cur, err := os.ReadFile(path2)
	require.NoError(t, err)
	require.Equal(t, tag.MergedCSVHeader+"\n"+dataLine(t, 3, 4, "s2")+"\n", string(cur))
}

func TestMergeRejectsMalformedDataLine(t *testing.T) {
	stagingDir := t.TempDir()
	mergedDir := t.TempDir()
	writeStaging(t, stagingDir, "feed", "not-a-valid-canonical-line\n")

	_, _, err := Merge(stagingDir, mergedDir)
	require.ErrorIs(t, err, ErrValidation)

	_, statErr := os.Stat(filepath.Join(mergedDir, mergedFileName))
	require.True(t, os.IsNotExist(statErr), "a failed validation must not publish merged.csv")
}

func TestMergeValidationLeavesPreviousMergeInPlace(t *testing.T) {
	stagingDir := t.TempDir()
	mergedDir := t.TempDir()
	writeStaging(t, stagingDir, "feed", dataLine(t, 1, 2, "s1")+"\n")

	path, _, err := Merge(stagingDir, mergedDir)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	writeStaging(t, stagingDir, "feed", "garbage\n")
	_, _, err = Merge(stagingDir, mergedDir)
	require.ErrorIs(t, err, ErrValidation)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after), "validation failure must not disturb the live merged file")
}
