/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package load reads a merged canonical CSV, flattens it into disjoint
// interval records, and publishes those records into a store.Index
// under a throwaway staging name before atomically renaming it over
// the live name — the last stage of an update run, after feed and
// merge.
package load

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rangewatch/rangewatch/flatten"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/tag"
)

// ErrMissingHeader is returned when mergedPath's first line isn't the
// merger's fixed header (tag.MergedCSVHeader): the merger is supposed
// to be the only producer of this file, so a missing or mismatched
// header means the file wasn't produced by merge.Merge.
var ErrMissingHeader = errors.New("load: merged file is missing its header line")

const insertBatchSize = 100_000

// Result reports what one Load call published.
type Result struct {
	// RecordCount is the number of disjoint records written to the
	// live index.
	RecordCount int
	// InputLines is the number of source lines read from the merged
	// CSV, before flattening.
	InputLines int
}

// Load reads mergedPath, flattens every range it contains, and swaps
// the result into idx under liveName. stagingName is a scratch index
// name owned exclusively by this call: it is deleted up front, built
// from scratch, and either renamed over liveName on success or deleted
// on failure, so a failed run never disturbs the previously published
// index.
func Load(ctx context.Context, lg *log.Logger, idx store.Index, mergedPath, stagingName, liveName string) (Result, error) {
	ins, inputLines, err := readMerged(mergedPath)
	if err != nil {
		return Result{}, fmt.Errorf("load: reading %s: %w", mergedPath, err)
	}

	recs, err := flatten.Flatten(ins)
	if err != nil {
		return Result{}, fmt.Errorf("load: flattening: %w", err)
	}

	if err := idx.Delete(ctx, stagingName); err != nil {
		return Result{}, fmt.Errorf("load: clearing staging index %q: %w", stagingName, err)
	}

	if err := publish(ctx, idx, stagingName, recs); err != nil {
		_ = idx.Delete(ctx, stagingName)
		return Result{}, err
	}

	card, err := idx.Card(ctx, stagingName)
	if err != nil {
		_ = idx.Delete(ctx, stagingName)
		return Result{}, fmt.Errorf("load: counting staged records: %w", err)
	}
	if card != int64(len(recs)) {
		_ = idx.Delete(ctx, stagingName)
		return Result{}, fmt.Errorf("load: staged %d records but index reports %d, aborting swap", len(recs), card)
	}

	if lg != nil {
		lg.Infof("load: staged %d records from %d input lines, swapping %q into %q", len(recs), inputLines, stagingName, liveName)
	}

	if err := idx.Rename(ctx, stagingName, liveName); err != nil {
		_ = idx.Delete(ctx, stagingName)
		return Result{}, fmt.Errorf("load: swapping %q into %q: %w", stagingName, liveName, err)
	}

	return Result{RecordCount: len(recs), InputLines: inputLines}, nil
}

// publish writes recs into idx under name in fixed-size batches, so a
// multi-million-record merge never requires buffering a single
// unbounded InsertBatch call in the store backend.
func publish(ctx context.Context, idx store.Index, name string, recs []tag.Record) error {
	for start := 0; start < len(recs); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := idx.InsertBatch(ctx, name, recs[start:end]); err != nil {
			return fmt.Errorf("load: inserting batch [%d,%d): %w", start, end, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// readMerged parses every non-blank data line of path into a
// flatten.Input, returning the inputs alongside a count of data lines
// read (for Result's InputLines, independent of how many survive
// flattening). The first line must be the merger's fixed header
// (tag.MergedCSVHeader); it is consumed, not counted or parsed as data.
func readMerged(path string) ([]flatten.Input, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		return nil, 0, ErrMissingHeader
	}
	if sc.Text() != tag.MergedCSVHeader {
		return nil, 0, ErrMissingHeader
	}

	var ins []flatten.Input
	lines := 0

	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines++
		start, end, t, derr := tag.DecodeLine(line)
		if derr != nil {
			return nil, 0, fmt.Errorf("line %d: %w", lines, derr)
		}
		ins = append(ins, flatten.Input{Start: start, End: end, Tag: t})
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return nil, 0, err
	}
	return ins, lines, nil
}
