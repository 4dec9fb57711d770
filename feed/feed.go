/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package feed implements the ingestion plugins that pull range lists
// from upstream providers (Cloudflare, AWS, GCP, MaxMind, ...) and write
// them out as canonical staging lines for the merger to concatenate.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/ipnum"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/tag"
)

var (
	ErrUnknownType = errors.New("feed: unknown plugin type")

	// ErrEmptyStagingFile is returned by Validate when a plugin's Fetch
	// produced a staging file with no usable data lines.
	ErrEmptyStagingFile = errors.New("feed: staging file is empty")
)

// pluginVersion/pluginDescription describe each built-in plugin type,
// reported through Metadata for diagnostics (spec.md §4.A's
// {name, version, description, abort_on_fail} contract).
var (
	pluginVersion = map[string]string{
		"simplelist": "1.0.0",
		"jsonfeed":   "1.0.0",
		"maxmind":    "1.0.0",
	}
	pluginDescription = map[string]string{
		"simplelist": "newline-delimited plain-text CIDR list",
		"jsonfeed":   "JSON document with a dotted-path array of ranges",
		"maxmind":    "MaxMind GeoLite2-ASN-CSV zip bundle",
	}
)

// Metadata identifies a plugin instance for logging, staging file
// naming, and the update coordinator's fetch-failure policy.
type Metadata struct {
	Name        string // config section name
	Type        string // plugin type: "simplelist", "jsonfeed", "maxmind"
	Version     string // plugin implementation version
	Description string // human-readable summary of what this plugin type fetches
	Source      string // tag "source" value
	TagType     string // tag "type" value

	// AbortOnFail, when true, makes a failure of this plugin (at Fetch
	// or Validate) fatal to the whole update run; when false the
	// failure is logged and this feed's contribution is simply omitted
	// from the current cycle (spec.md §4.A/§7's FeedFetchFailed policy).
	AbortOnFail bool
}

// Plugin fetches one upstream feed and writes its ranges to a staging
// file as canonical lines (tag.EncodeLine), one per disjoint source
// range. Fetch truncates any earlier staging file of the same name, so
// it is safe to retry. A failed run can leave a partially written
// staging file behind; the update coordinator removes it when it omits
// the feed from a cycle.
type Plugin interface {
	Metadata() Metadata
	Fetch(ctx context.Context, stagingDir string) (path string, err error)

	// Validate checks the file Fetch produced for basic well-formedness
	// (non-empty, structurally plausible canonical lines), independent
	// of whatever Fetch itself already checked, the way a second,
	// separate verification pass would.
	Validate(file string) error

	// SetLogger attaches a logger for diagnostics during Fetch. The
	// update coordinator calls this on every plugin it builds, before
	// the first Fetch.
	SetLogger(lg *log.Logger)
}

// New constructs the plugin named by cfg.Type.
func New(name string, cfg *config.Feed) (Plugin, error) {
	meta := Metadata{
		Name:        name,
		Type:        cfg.Type,
		Version:     pluginVersion[cfg.Type],
		Description: pluginDescription[cfg.Type],
		Source:      cfg.Source_Name,
		TagType:     cfg.Tag_Type,
		AbortOnFail: cfg.Abort_On_Fail,
	}
	switch cfg.Type {
	case "simplelist":
		return newSimpleList(meta, cfg), nil
	case "jsonfeed":
		return newJSONFeed(meta, cfg), nil
	case "maxmind":
		return newMaxMind(meta, cfg), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
}

// validationSampleLines is how many leading data lines Validate checks
// for well-formedness, mirroring the merger's own sampled validation
// pass rather than parsing an entire multi-million-line feed twice.
const validationSampleLines = 10

// validateStagingFile implements the shared half of every plugin's
// Validate: the file must exist, be non-empty, and its first several
// data lines must parse as canonical lines. Individual plugins
// delegate to this rather than each reimplementing it.
func validateStagingFile(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return ErrEmptyStagingFile
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	checked := 0
	lineNo := 0
	for checked < validationSampleLines && sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if _, _, _, err := tag.DecodeLine(line); err != nil {
			return fmt.Errorf("feed: staging file malformed at line %d: %w", lineNo, err)
		}
		checked++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if checked == 0 {
		return ErrEmptyStagingFile
	}
	return nil
}

// stagingFile opens a fresh staging file for a plugin run, named
// "<section>.staging", truncating any prior content: a retry of a
// failed fetch should not accumulate stale lines alongside fresh ones.
func stagingFile(stagingDir, name string) (*os.File, string, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, "", err
	}
	path := filepath.Join(stagingDir, name+".staging")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	return f, path, err
}

// writeRange renders one CIDR block's tag as a canonical line and
// writes it, logging and skipping (rather than aborting the whole
// fetch) any single range that fails to parse — one malformed entry in
// an upstream feed shouldn't sink the entire plugin run.
func writeRange(lg *log.Logger, f *os.File, cidr string, t tag.Tag) error {
	iv, err := ipnum.CIDRToInterval(cidr)
	if err != nil {
		if lg != nil {
			lg.Warnf("skipping unparseable range %q: %v", cidr, err)
		}
		return nil
	}
	line, err := tag.EncodeLine(iv.Start, iv.End, t)
	if err != nil {
		return err
	}
	_, err = f.WriteString(line + "\n")
	return err
}
