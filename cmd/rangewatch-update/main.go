/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command rangewatch-update runs the scheduled feed-fetch / merge /
// flatten / load pipeline that keeps the live lookup index current.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/store/boltindex"
	"github.com/rangewatch/rangewatch/store/redisindex"
	"github.com/rangewatch/rangewatch/store/rediscache"
	"github.com/rangewatch/rangewatch/store/redislock"
	"github.com/rangewatch/rangewatch/update"
	"github.com/rangewatch/rangewatch/utils"
	"github.com/rangewatch/rangewatch/version"
)

const (
	liveIndexSuffix    = "index:live"
	stagingIndexSuffix = "index:staging"
	updateLockSuffix   = "lock:update"
)

var (
	configPath = flag.String("config", "/opt/rangewatch/rangewatch-update.conf", "path to the configuration file")
	runOnce    = flag.Bool("once", false, "run the pipeline a single time and exit, instead of starting the cron schedule")
	printVer   = flag.Bool("v", false, "print version and exit")
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

	lg, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	idx, cache, distLock, closeStore, err := buildStore(cfg, lg)
	if err != nil {
		lg.Errorf("failed to initialize store backend: %v", err)
		os.Exit(1)
	}
	defer closeStore()

	liveName := cfg.Global.Key_Prefix + ":" + liveIndexSuffix
	stagingName := cfg.Global.Key_Prefix + ":" + stagingIndexSuffix

	coord, err := update.New(cfg, idx, lg, liveName, stagingName, distLock)
	if err != nil {
		lg.Errorf("failed to build update coordinator: %v", err)
		os.Exit(1)
	}
	coord = coord.WithCache(cache)

	ctx, cancel := context.WithCancel(context.Background())

	if *runOnce {
		s := coord.RunOnce(ctx)
		cancel()
		if s.State == update.StateFailed {
			os.Exit(1)
		}
		return
	}

	if err := coord.Start(ctx); err != nil {
		lg.Errorf("failed to start update schedule: %v", err)
		cancel()
		os.Exit(1)
	}
	lg.Infof("rangewatch-update running on schedule %q (%s)", cfg.Global.Cron_Expression, cfg.Global.Cron_Timezone)

	utils.WaitForQuit()
	lg.Infof("rangewatch-update shutting down")
	coord.Stop()
	cancel()
}

func buildLogger(cfg *config.Config) (*log.Logger, error) {
	var lg *log.Logger
	var err error
	if cfg.Global.Log_File == `` {
		lg = log.NewStderrLogger()
	} else {
		lg, err = log.NewFile(cfg.Global.Log_File, cfg.Global.Log_Max_Size_MB, cfg.Global.Log_Max_History, !cfg.Global.Log_Disable_Compress)
		if err != nil {
			return nil, err
		}
	}
	if err := lg.SetLevelString(cfg.Global.Log_Level); err != nil {
		return nil, err
	}
	return lg, nil
}

// buildStore wires the configured storage backend, returning the
// Index, result Cache, an optional distributed lock (only meaningful
// for the redis backend), and a cleanup func.
func buildStore(cfg *config.Config, lg *log.Logger) (store.Index, store.Cache, *redislock.Lock, func(), error) {
	switch cfg.Global.Store_Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Global.Redis_Address,
			Password: cfg.Global.Redis_Password,
			DB:       cfg.Global.Redis_DB,
		})
		idx := redisindex.New(rdb)
		cache := rediscache.New(rdb, cfg.Global.Key_Prefix+":cache:")
		lockKey := cfg.Global.Key_Prefix + ":" + updateLockSuffix
		lock := redislock.New(rdb, lockKey, time.Hour)
		return idx, cache, lock, func() { rdb.Close() }, nil
	case config.BackendBolt:
		idx, err := boltindex.Open(cfg.Global.Bolt_Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return idx, noopCache{}, nil, func() { idx.Close() }, nil
	}
	return nil, nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Global.Store_Backend)
}

// noopCache backs the result cache when running with the bolt store
// backend, which has no shared cache of its own: every lookup simply
// re-queries the embedded index, which is already a single process-
// local B+tree read.
type noopCache struct{}

func (noopCache) Get(ctx context.Context, key string) ([]byte, bool, bool, error) {
	return nil, false, false, nil
}
func (noopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (noopCache) SetNull(ctx context.Context, key string, ttl time.Duration) error { return nil }
func (noopCache) Invalidate(ctx context.Context, key string) error                { return nil }
func (noopCache) Flush(ctx context.Context) error                                 { return nil }
