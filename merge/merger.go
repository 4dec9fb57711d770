/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package merge concatenates the per-feed staging files produced by
// feed plugins into one canonical, directory-ordered CSV ready for the
// flattener, writing the result through a temp file and rename so a
// reader never observes a partially written merge.
package merge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rangewatch/rangewatch/tag"
)

var (
	ErrNoStagingFiles = errors.New("merge: no staging files found")

	// ErrValidation is returned when the freshly written merged file
	// fails the structural check run before it is published: this
	// mirrors spec.md §4.B/§7's MergeValidationFailed, which leaves the
	// live merged CSV untouched on failure.
	ErrValidation = errors.New("merge: validation failed")
)

const stagingSuffix = ".staging"

const mergedFileName = "merged.csv"

const backupSuffix = ".backup"

// validationSampleLines is how many leading data lines Merge checks
// for well-formedness before publishing (spec.md §4.B: "first ten data
// lines").
const validationSampleLines = 10

// Merge concatenates every "*.staging" file in stagingDir, in sorted
// filename order for determinism, into stagingDir's companion
// mergedDir/merged.csv, preceded by the fixed header line
// tag.MergedCSVHeader. The freshly written file is validated before
// publishing; on validation failure the temporary file is discarded and
// the previously published merged.csv, if any, is left untouched. Any
// pre-existing merged.csv is rotated to merged.csv.backup before being
// replaced.
func Merge(stagingDir, mergedDir string) (path string, lineCount int, err error) {
	files, err := stagingFiles(stagingDir)
	if err != nil {
		return "", 0, err
	}
	if len(files) == 0 {
		return "", 0, ErrNoStagingFiles
	}

	if err := os.MkdirAll(mergedDir, 0755); err != nil {
		return "", 0, err
	}
	finalPath := filepath.Join(mergedDir, mergedFileName)
	tempPath := finalPath + ".tmp"

	out, err := os.OpenFile(tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, err
	}
	w := bufio.NewWriter(out)

	if _, err := w.WriteString(tag.MergedCSVHeader + "\n"); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", 0, err
	}

	for _, f := range files {
		n, ferr := appendFile(w, f)
		lineCount += n
		if ferr != nil {
			out.Close()
			os.Remove(tempPath)
			return "", 0, fmt.Errorf("merging %s: %w", f, ferr)
		}
	}
	if err := w.Flush(); err != nil {
		out.Close()
		os.Remove(tempPath)
		return "", 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return "", 0, err
	}

	if err := validate(tempPath); err != nil {
		os.Remove(tempPath)
		return "", 0, err
	}

	if _, statErr := os.Stat(finalPath); statErr == nil {
		if err := os.Rename(finalPath, finalPath+backupSuffix); err != nil {
			os.Remove(tempPath)
			return "", 0, fmt.Errorf("rotating previous merge: %w", err)
		}
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return "", 0, fmt.Errorf("publishing merged file: %w", err)
	}
	return finalPath, lineCount, nil
}

// validate runs the structural check spec.md §4.B mandates before a
// merged file is published: it must exist (the caller already has an
// open descriptor, so this is really "be non-empty"), its size must
// exceed the header alone, the header must be present and exact, and
// the first validationSampleLines data lines must each split into
// exactly three "|"-separated fields with the first two parsing as
// unsigned integers.
func validate(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() <= int64(len(tag.MergedCSVHeader)+1) {
		return fmt.Errorf("%w: file is empty or header-only", ErrValidation)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufioScanner(f)
	if !sc.Scan() {
		return fmt.Errorf("%w: missing header", ErrValidation)
	}
	if sc.Text() != tag.MergedCSVHeader {
		return fmt.Errorf("%w: header %q does not match %q", ErrValidation, sc.Text(), tag.MergedCSVHeader)
	}

	checked := 0
	lineNo := 1
	for checked < validationSampleLines && sc.Scan() {
		lineNo++
		fields := strings.SplitN(sc.Text(), "|", 3)
		if len(fields) != 3 {
			return fmt.Errorf("%w: line %d has %d |-separated fields, want 3", ErrValidation, lineNo, len(fields))
		}
		if _, perr := strconv.ParseUint(fields[0], 10, 32); perr != nil {
			return fmt.Errorf("%w: line %d: start field %q: %v", ErrValidation, lineNo, fields[0], perr)
		}
		if _, perr := strconv.ParseUint(fields[1], 10, 32); perr != nil {
			return fmt.Errorf("%w: line %d: end field %q: %v", ErrValidation, lineNo, fields[1], perr)
		}
		checked++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return nil
}

// stagingFiles returns every "*.staging" file directly under dir, in
// sorted order.
func stagingFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stagingSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// appendFile copies every non-blank line of f into w, returning the
// number of lines written.
func appendFile(w *bufio.Writer, f string) (n int, err error) {
	fin, err := os.Open(f)
	if err != nil {
		return 0, err
	}
	defer fin.Close()

	sc := bufioScanner(fin)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := w.WriteString(line); err != nil {
			return n, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, err
	}
	return n, nil
}

func bufioScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}
