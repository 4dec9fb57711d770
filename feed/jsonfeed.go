/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/tag"
)

// jsonFeed fetches a JSON document and walks a dotted path down to an
// array of ranges — the shape AWS, GCP, Google and Fastly all publish
// their ranges in, just with different field names. An element's
// string "service", "region", "scope" and "provider" fields, when
// present, are copied into that range's tag.
type jsonFeed struct {
	meta Metadata
	cfg  *config.Feed
	lg   *log.Logger
}

func newJSONFeed(meta Metadata, cfg *config.Feed) *jsonFeed {
	return &jsonFeed{meta: meta, cfg: cfg, lg: log.NewDiscardLogger()}
}

func (j *jsonFeed) Metadata() Metadata { return j.meta }

func (j *jsonFeed) SetLogger(lg *log.Logger) { j.lg = lg }

func (j *jsonFeed) Validate(file string) error { return validateStagingFile(file) }

func (j *jsonFeed) Fetch(ctx context.Context, stagingDir string) (string, error) {
	var limiter *rate.Limiter
	if bps, err := config.ParseRate(j.cfg.Rate_Limit); err == nil && bps > 0 {
		limiter = rate.NewLimiter(rate.Limit(bps), int(bps))
	}
	rc := newRetryClient(j.cfg.FeedTimeout(), limiter, j.lg)

	body, err := rc.Get(ctx, j.cfg.URL)
	if err != nil {
		return "", err
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("jsonfeed %s: %w", j.meta.Name, err)
	}

	elems, err := walkPath(doc, j.cfg.JSON_Path)
	if err != nil {
		return "", fmt.Errorf("jsonfeed %s: %w", j.meta.Name, err)
	}
	arr, ok := elems.([]interface{})
	if !ok {
		return "", fmt.Errorf("jsonfeed %s: path %q did not resolve to an array", j.meta.Name, j.cfg.JSON_Path)
	}

	f, path, err := stagingFile(stagingDir, j.meta.Name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	t := tag.Tag{
		"type":   j.meta.TagType,
		"source": j.meta.Source,
	}

	for _, e := range arr {
		cidr, ok := extractCIDR(e, j.cfg.CIDR_Field)
		if !ok {
			continue
		}
		et := t
		if m, isObj := e.(map[string]interface{}); isObj {
			et = t.Clone()
			for _, k := range []string{"service", "region", "scope", "provider"} {
				if v, isStr := m[k].(string); isStr && v != "" {
					et[k] = v
				}
			}
		}
		if err := writeRange(j.lg, f, cidr, et); err != nil {
			return "", err
		}
	}
	return path, nil
}

// walkPath descends a parsed JSON document along a "."-separated path
// of object keys, e.g. "prefixes" or "addressPrefixes.ipv4". An empty
// path returns doc itself.
func walkPath(doc interface{}, path string) (interface{}, error) {
	if path == "" {
		return doc, nil
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot descend into %q: not an object", key)
		}
		v, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("missing key %q", key)
		}
		cur = v
	}
	return cur, nil
}

// extractCIDR pulls a CIDR string out of one array element: either the
// element itself (field == "") or a named field within it.
func extractCIDR(e interface{}, field string) (string, bool) {
	if field == "" {
		s, ok := e.(string)
		return s, ok
	}
	m, ok := e.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := m[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
