/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package feed

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/tag"
)

// simpleList fetches a plain-text, newline-delimited list of CIDR
// blocks — the format Cloudflare and Spamhaus both publish their
// ranges in. Blank lines, lines starting with '#' or ';', text after
// the first whitespace on a line, and lines not made only of digits,
// dots and slashes are skipped.
type simpleList struct {
	meta Metadata
	cfg  *config.Feed
	lg   *log.Logger
}

func newSimpleList(meta Metadata, cfg *config.Feed) *simpleList {
	return &simpleList{meta: meta, cfg: cfg, lg: log.NewDiscardLogger()}
}

func (s *simpleList) Metadata() Metadata { return s.meta }

func (s *simpleList) SetLogger(lg *log.Logger) { s.lg = lg }

func (s *simpleList) Validate(file string) error { return validateStagingFile(file) }

func (s *simpleList) Fetch(ctx context.Context, stagingDir string) (string, error) {
	var limiter *rate.Limiter
	if bps, err := config.ParseRate(s.cfg.Rate_Limit); err == nil && bps > 0 {
		limiter = rate.NewLimiter(rate.Limit(bps), int(bps))
	}
	rc := newRetryClient(s.cfg.FeedTimeout(), limiter, s.lg)

	body, err := rc.Get(ctx, s.cfg.URL)
	if err != nil {
		return "", err
	}

	f, path, err := stagingFile(stagingDir, s.meta.Name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	t := tag.Tag{
		"type":   s.meta.TagType,
		"source": s.meta.Source,
	}

	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		// Anything after the first whitespace is an inline comment.
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			line = line[:i]
		}
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		// Keep only lines made of digits, dots and slashes.
		if strings.Trim(line, "0123456789./") != "" {
			continue
		}
		if err := writeRange(s.lg, f, line, t); err != nil {
			return "", err
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return path, nil
}
