/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package tag defines the structured metadata attached to a source
// interval and the wire encodings used to move it between the feed
// plugins, the merger, the flattener and the sorted interval index.
package tag

import (
	"encoding/json"
	"errors"
	"sort"
)

// Tag is a small structured record attached to a source interval. Only
// "type" and "source" are semantically mandatory; everything else
// (name, provider, service, region, scope, ...) is feed-specific and
// carried opaquely in a free-form map (matching the upstream
// aggregator's own behavior; a new feed is a data change,
// not a schema change).
type Tag map[string]interface{}

var (
	ErrMissingType   = errors.New("tag: missing required \"type\" field")
	ErrMissingSource = errors.New("tag: missing required \"source\" field")
)

// Type returns the tag's "type" field, or "" if absent.
func (t Tag) Type() string {
	return t.str("type")
}

// Source returns the tag's "source" field, or "" if absent.
func (t Tag) Source() string {
	return t.str("source")
}

func (t Tag) str(k string) string {
	if v, ok := t[k]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Validate checks that the mandatory fields are present.
func (t Tag) Validate() error {
	if t.Type() == "" {
		return ErrMissingType
	}
	if t.Source() == "" {
		return ErrMissingSource
	}
	return nil
}

// Clone returns a shallow copy of t.
func (t Tag) Clone() Tag {
	out := make(Tag, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// WithoutType returns a clone of t with the "type" field removed, which
// is how tags are stored inside a payload's per-type list (the type is
// already the map key, so repeating it in every entry is redundant).
func (t Tag) WithoutType() Tag {
	out := t.Clone()
	delete(out, "type")
	return out
}

// CanonicalJSON renders t as JSON with map keys in sorted order, giving
// a stable byte-for-byte representation usable as a dedup key. Go's
// encoding/json already sorts map[string]interface{} keys, so this is
// just json.Marshal with a name that documents the guarantee the
// flattener's active-set deduplication (spec.md I2) depends on.
func (t Tag) CanonicalJSON() (string, error) {
	b, err := json.Marshal(map[string]interface{}(t))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseTag decodes a JSON object into a Tag.
func ParseTag(b []byte) (Tag, error) {
	var t Tag
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, err
	}
	return t, nil
}

// Payload is a record's tag list grouped by type: the mapping from tag
// "type" to an ordered sequence of tag records stripped of their "type"
// field (spec.md §3, Interval record).
type Payload map[string][]Tag

// Add appends t (with its type stripped) to the appropriate type
// bucket, creating it if necessary.
func (p Payload) Add(t Tag) {
	typ := t.Type()
	p[typ] = append(p[typ], t.WithoutType())
}

// SortedTypes returns the payload's type keys in a stable, sorted
// order, for deterministic serialization and testing.
func (p Payload) SortedTypes() []string {
	types := make([]string, 0, len(p))
	for k := range p {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}
