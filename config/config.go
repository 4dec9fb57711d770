/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config loads and validates rangewatch's ini-style config file
// using gcfg, the same config library the teacher's ingesters use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gravwell/gcfg"
)

const (
	maxConfigSize int64 = 2 * 1024 * 1024 // config files are small; this is generous

	defaultLogLevel  = `INFO`
	defaultKeyPrefix = `rangewatch`
	defaultCacheTTL  = 48 * time.Hour
	defaultTimezone  = `UTC`

	BackendRedis = `redis`
	BackendBolt  = `bolt`
)

var (
	ErrConfigFileTooLarge  = errors.New("config file is too large")
	ErrFailedFileRead      = errors.New("failed to read entire config file")
	ErrNoFeeds             = errors.New("no [Feed ...] sections specified")
	ErrUnknownBackend      = errors.New("Store-Backend must be \"redis\" or \"bolt\"")
	ErrMissingRedisAddress = errors.New("Redis-Address is required when Store-Backend is \"redis\"")
	ErrMissingBoltPath     = errors.New("Bolt-Path is required when Store-Backend is \"bolt\"")
	ErrMissingStagingDir   = errors.New("Staging-Dir is required")
	ErrMissingCronExpr     = errors.New("Cron-Expression is required")
	ErrInvalidLogLevel     = errors.New("invalid Log-Level")
	ErrMissingFeedType     = errors.New("feed section is missing Type")
	ErrMissingFeedURL      = errors.New("feed section is missing URL")
	ErrUnknownFeedType     = errors.New("feed section has unrecognized Type")
)

// Global holds the [Global] section: everything that applies to the
// update coordinator and lookup engine as a whole, rather than to one
// feed plugin.
type Global struct {
	Store_Backend string // "redis" or "bolt"

	Redis_Address  string
	Redis_Password string
	Redis_DB       int

	Bolt_Path string

	Key_Prefix string // index/cache key namespace, default "rangewatch"

	Staging_Dir string // where feed plugins write canonical lines
	Merged_Dir  string // where the merger writes its concatenated CSV
	Lock_Dir    string // local flock directory, guards concurrent runs on one host

	Cron_Expression string // robfig/cron expression for the update coordinator
	Cron_Timezone   string // IANA timezone name, default UTC

	Cache_TTL                string // duration string, default "48h"
	Invalidate_Cache_On_Swap bool   // if true, flush the result cache immediately after an index swap instead of letting entries expire

	Run_Timeout string // duration string bounding one full update run, default "10m"

	DNSBL_Zone string // optional DNSBL zone for lookup augmentation, e.g. "zen.spamhaus.org"

	Log_Level string
	Log_File  string

	// Log-Max-Size-MB/Log-Max-History control rotation of Log_File via
	// log/rotate; zero values fall back to rotate's own defaults (4MB, 3
	// generations). Log-Disable-Compress turns off gzip of rolled-off
	// generations, which rotate otherwise applies by default.
	Log_Max_Size_MB      int
	Log_Max_History      uint
	Log_Disable_Compress bool
}

// Feed is one [Feed "name"] section: the configuration for a single
// feed plugin instance.
type Feed struct {
	Type string // "simplelist", "jsonfeed", or "maxmind"

	URL string

	License_Key string // maxmind only
	Edition_ID  string // maxmind only, e.g. "GeoLite2-ASN-CSV"

	JSON_Path  string // jsonfeed only: dotted path to the array of ranges, e.g. "prefixes"
	CIDR_Field string // jsonfeed only: field holding the CIDR inside each array element; empty means each element is itself a CIDR string

	Source_Name string // value stamped into the tag's "source" field; defaults to the section name
	Tag_Type    string // value stamped into the tag's "type" field, e.g. "denylist", "allowlist", "asn"

	Rate_Limit string // e.g. "2mbit", throttles the HTTP fetch
	Timeout    string // duration string, default "30s"

	// Abort_On_Fail controls what a failure of this feed does to the
	// rest of the update run: true fails the whole run; false (default)
	// logs the failure and omits this feed's contribution for the
	// cycle, letting the other feeds' results still publish.
	Abort_On_Fail bool
}

// Config is the whole parsed configuration file.
type Config struct {
	Global Global
	Feed   map[string]*Feed
}

// LoadFile reads and parses the config file at path.
func LoadFile(path string) (*Config, error) {
	fin, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fin.Close()

	fi, err := fin.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}

	bb := bytes.NewBuffer(nil)
	n, err := io.Copy(bb, fin)
	if err != nil {
		return nil, err
	} else if n != fi.Size() {
		return nil, ErrFailedFileRead
	}
	return LoadBytes(bb.Bytes())
}

// LoadBytes parses the contents of b and validates the result.
func LoadBytes(b []byte) (*Config, error) {
	if int64(len(b)) > maxConfigSize {
		return nil, ErrConfigFileTooLarge
	}
	var c Config
	if err := gcfg.ReadStringInto(&c, string(b)); err != nil {
		return nil, err
	}
	if err := c.verify(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) verify() error {
	g := &c.Global

	switch strings.ToLower(g.Store_Backend) {
	case BackendRedis:
		if g.Redis_Address == `` {
			return ErrMissingRedisAddress
		}
	case BackendBolt:
		if g.Bolt_Path == `` {
			return ErrMissingBoltPath
		}
	default:
		return ErrUnknownBackend
	}
	g.Store_Backend = strings.ToLower(g.Store_Backend)

	if g.Key_Prefix == `` {
		g.Key_Prefix = defaultKeyPrefix
	}
	if g.Staging_Dir == `` {
		return ErrMissingStagingDir
	}
	if g.Merged_Dir == `` {
		g.Merged_Dir = g.Staging_Dir
	}
	if g.Lock_Dir == `` {
		g.Lock_Dir = g.Staging_Dir
	}
	if g.Cron_Expression == `` {
		return ErrMissingCronExpr
	}
	if g.Cron_Timezone == `` {
		g.Cron_Timezone = defaultTimezone
	}
	if g.Run_Timeout == `` {
		g.Run_Timeout = `10m`
	}
	if _, err := time.ParseDuration(g.Run_Timeout); err != nil {
		return fmt.Errorf("invalid Run-Timeout: %w", err)
	}
	if g.Cache_TTL == `` {
		g.Cache_TTL = defaultCacheTTL.String()
	}
	if _, err := time.ParseDuration(g.Cache_TTL); err != nil {
		return fmt.Errorf("invalid Cache-TTL: %w", err)
	}

	g.Log_Level = strings.ToUpper(strings.TrimSpace(g.Log_Level))
	if g.Log_Level == `` {
		g.Log_Level = defaultLogLevel
	}
	switch g.Log_Level {
	case `OFF`, `DEBUG`, `INFO`, `WARN`, `ERROR`, `CRITICAL`:
	default:
		return ErrInvalidLogLevel
	}

	if len(c.Feed) == 0 {
		return ErrNoFeeds
	}
	for name, f := range c.Feed {
		if f.Type == `` {
			return fmt.Errorf("feed %q: %w", name, ErrMissingFeedType)
		}
		switch strings.ToLower(f.Type) {
		case `simplelist`, `jsonfeed`:
			if f.URL == `` {
				return fmt.Errorf("feed %q: %w", name, ErrMissingFeedURL)
			}
		case `maxmind`:
			if f.URL == `` {
				return fmt.Errorf("feed %q: %w", name, ErrMissingFeedURL)
			}
		default:
			return fmt.Errorf("feed %q: %w: %s", name, ErrUnknownFeedType, f.Type)
		}
		if f.Source_Name == `` {
			f.Source_Name = name
		}
		if f.Timeout == `` {
			f.Timeout = `30s`
		}
		if _, err := time.ParseDuration(f.Timeout); err != nil {
			return fmt.Errorf("feed %q: invalid Timeout: %w", name, err)
		}
	}
	return nil
}

// CacheTTL returns the parsed result-cache TTL.
func (g Global) CacheTTL() time.Duration {
	d, err := time.ParseDuration(g.Cache_TTL)
	if err != nil {
		return defaultCacheTTL
	}
	return d
}

// RunTimeout returns the parsed per-run timeout bounding the update
// coordinator's pipeline.
func (g Global) RunTimeout() time.Duration {
	d, err := time.ParseDuration(g.Run_Timeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// FeedTimeout returns the parsed per-fetch timeout for one feed.
func (f Feed) FeedTimeout() time.Duration {
	d, err := time.ParseDuration(f.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}
