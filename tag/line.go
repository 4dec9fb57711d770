/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tag

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedLine = errors.New("tag: malformed canonical line")
)

// MergedCSVHeader is the fixed first line of the merger's output file
// (spec.md §4.B/§6), written once by the merger and skipped by the
// loader before it parses data lines.
const MergedCSVHeader = "start_int|end_int|list"

// EncodeLine renders the canonical staging line a feed plugin writes
// for one disjoint source range (spec.md §4.A/§6):
//
//	<start_int>|<end_int>|<tag_json_or_quoted>
//
// If the tag's JSON form contains the field delimiter "|", it is
// wrapped in "~...~" so the merger/loader can still split on "|"
// unambiguously.
func EncodeLine(start, end uint32, t Tag) (string, error) {
	j, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	if strings.Contains(j, "|") {
		j = "~" + j + "~"
	}
	return fmt.Sprintf("%d|%d|%s", start, end, j), nil
}

// DecodeLine parses one canonical staging/merged-CSV data line into its
// (start, end, tag) triple.
func DecodeLine(line string) (start, end uint32, t Tag, err error) {
	first := strings.IndexByte(line, '|')
	if first < 0 {
		err = ErrMalformedLine
		return
	}
	rest := line[first+1:]
	second := strings.IndexByte(rest, '|')
	if second < 0 {
		err = ErrMalformedLine
		return
	}
	startS := line[:first]
	endS := rest[:second]
	jsonPart := rest[second+1:]

	s64, perr := strconv.ParseUint(startS, 10, 32)
	if perr != nil {
		err = fmt.Errorf("%w: start %q: %v", ErrMalformedLine, startS, perr)
		return
	}
	e64, perr := strconv.ParseUint(endS, 10, 32)
	if perr != nil {
		err = fmt.Errorf("%w: end %q: %v", ErrMalformedLine, endS, perr)
		return
	}

	jsonPart = unquote(jsonPart)
	t, perr = ParseTag([]byte(jsonPart))
	if perr != nil {
		err = fmt.Errorf("%w: tag json: %v", ErrMalformedLine, perr)
		return
	}
	start, end = uint32(s64), uint32(e64)
	return
}

// unquote strips a "~...~" wrapper if present; the parser treats "~" as
// a quote character the same way the writer uses it.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '~' && s[len(s)-1] == '~' {
		return s[1 : len(s)-1]
	}
	return s
}
