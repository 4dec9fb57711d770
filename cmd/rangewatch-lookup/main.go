/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command rangewatch-lookup answers IPv4 lookups against the live
// index built by rangewatch-update, either as a one-shot CLI query or
// as a persistent process reading addresses from stdin, one per line.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/dnsbl"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/lookup"
	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/store/boltindex"
	"github.com/rangewatch/rangewatch/store/rediscache"
	"github.com/rangewatch/rangewatch/store/redisindex"
	"github.com/rangewatch/rangewatch/tag"
	"github.com/rangewatch/rangewatch/version"
)

const liveIndexSuffix = "index:live"

var (
	configPath   = flag.String("config", "/opt/rangewatch/rangewatch-lookup.conf", "path to the configuration file")
	printVer     = flag.Bool("v", false, "print version and exit")
	includeDNSBL = flag.Bool("dnsbl", false, "also probe the configured DNSBL zone for each address and merge its tag into the result")
)

func main() {
	flag.Parse()
	if *printVer {
		version.PrintVersion(os.Stdout)
		return
	}

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg := log.NewStderrLogger()
	if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
		fmt.Fprintf(os.Stderr, "invalid Log-Level: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	engine, closeFn, err := buildEngine(cfg, lg)
	if err != nil {
		lg.Errorf("failed to initialize lookup engine: %v", err)
		os.Exit(1)
	}
	defer closeFn()

	args := flag.Args()
	ctx := context.Background()
	if len(args) > 0 {
		for _, ip := range args {
			p, err := engine.Lookup(ctx, ip, *includeDNSBL)
			printResult(ip, p, err)
		}
		return
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		ip := strings.TrimSpace(sc.Text())
		if ip == `` {
			continue
		}
		p, err := engine.Lookup(ctx, ip, *includeDNSBL)
		printResult(ip, p, err)
	}
}

// result is the one-line JSON record printed per queried address.
type result struct {
	IP      string      `json:"ip"`
	Found   bool        `json:"found"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func printResult(ip string, payload tag.Payload, err error) {
	r := result{IP: ip}
	switch {
	case err == nil:
		r.Found = true
		r.Payload = payload
	case errors.Is(err, lookup.ErrNotFound):
		r.Found = false
	default:
		r.Error = err.Error()
	}
	b, merr := json.Marshal(r)
	if merr != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal result for %s: %v\n", ip, merr)
		return
	}
	fmt.Println(string(b))
}

func buildEngine(cfg *config.Config, lg *log.Logger) (*lookup.Engine, func(), error) {
	liveName := cfg.Global.Key_Prefix + ":" + liveIndexSuffix

	var idx store.Index
	var cache store.Cache
	var closeFn func()

	switch cfg.Global.Store_Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Global.Redis_Address,
			Password: cfg.Global.Redis_Password,
			DB:       cfg.Global.Redis_DB,
		})
		idx = redisindex.New(rdb)
		cache = rediscache.New(rdb, cfg.Global.Key_Prefix+":cache:")
		closeFn = func() { rdb.Close() }
	case config.BackendBolt:
		b, err := boltindex.Open(cfg.Global.Bolt_Path)
		if err != nil {
			return nil, nil, err
		}
		idx = b
		closeFn = func() { b.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Global.Store_Backend)
	}

	opts := []lookup.Option{lookup.WithLogger(lg), lookup.WithCacheTTL(cfg.Global.CacheTTL())}
	if cache != nil {
		opts = append(opts, lookup.WithCache(cache))
	}
	if cfg.Global.DNSBL_Zone != `` {
		resolver, err := dnsbl.New(cfg.Global.DNSBL_Zone, defaultResolvers(), cfg.Global.DNSBL_Zone)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		opts = append(opts, lookup.WithDNSBL(resolver))
	}

	engine := lookup.New(idx, liveName, opts...)
	return engine, closeFn, nil
}

func defaultResolvers() []string {
	return []string{"1.1.1.1:53", "8.8.8.8:53"}
}
