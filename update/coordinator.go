/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package update implements the scheduled A->B->C pipeline that keeps
// the live index current: fan out to every configured feed, merge
// their staging output, flatten and load the result into the index,
// all under a cron schedule and a two-layer lock (a local flock guard
// against a second process on the same host, a Redis lock guard
// against a second host racing the same index).
package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/feed"
	"github.com/rangewatch/rangewatch/load"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/merge"
	"github.com/rangewatch/rangewatch/store"
	"github.com/rangewatch/rangewatch/store/redislock"
	"github.com/rangewatch/rangewatch/utils"
)

// ErrStaleLock is logged (never returned to a caller) when RunOnce
// finds the distributed lock held by a process that has died on the
// local host, breaks it, and retries acquisition.
var ErrStaleLock = errors.New("update: distributed lock was held by a dead local process")

// ErrLockContention is recorded as the skip reason when the
// distributed lock is held by a live process, local or remote
// (spec.md §4.F: "A live holder or a holder on a different host means
// busy").
var ErrLockContention = errors.New("update: distributed lock is held by another live process")

// Stage names reported through Status.
const (
	StageFetch   = "fetch"
	StageMerge   = "merge"
	StageLoad    = "load"
	StageLocking = "locking"
)

// Status describes the outcome (or current progress) of one run.
type Status struct {
	State     string // "in_progress", "completed", "failed", "skipped"
	Stage     string // current or last stage reached
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
	Result    load.Result
}

const (
	StateInProgress = "in_progress"
	StateCompleted  = "completed"
	StateFailed     = "failed"
	StateSkipped    = "skipped"
)

// Coordinator owns the scheduled update pipeline for one configuration.
type Coordinator struct {
	cfg *config.Config
	idx store.Index
	lg  *log.Logger

	fileLock  *flock.Flock
	distLock  *redislock.Lock // nil when the store backend isn't redis
	liveName  string
	stageName string

	cache store.Cache // optional: flushed after a swap when Invalidate-Cache-On-Swap is set

	mtx    sync.Mutex
	status Status

	cron *cron.Cron
}

// WithCache attaches the result cache to flush after a successful swap
// when Invalidate-Cache-On-Swap is enabled.
func (c *Coordinator) WithCache(cache store.Cache) *Coordinator {
	c.cache = cache
	return c
}

// New builds a Coordinator. liveName/stageName are the Index names the
// loader swaps between (e.g. "rangewatch:live" / "rangewatch:staging").
func New(cfg *config.Config, idx store.Index, lg *log.Logger, liveName, stageName string, distLock *redislock.Lock) (*Coordinator, error) {
	if lg == nil {
		lg = log.NewDiscardLogger()
	}
	fl := flock.New(cfg.Global.Lock_Dir + "/rangewatch-update.lock")
	return &Coordinator{
		cfg:       cfg,
		idx:       idx,
		lg:        lg,
		fileLock:  fl,
		distLock:  distLock,
		liveName:  liveName,
		stageName: stageName,
	}, nil
}

// Status returns a snapshot of the most recently started (or running)
// run.
func (c *Coordinator) Status() Status {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.status
}

// Health reports whether the coordinator's last run succeeded, for a
// process-level health check endpoint.
func (c *Coordinator) Health() error {
	s := c.Status()
	if s.State == StateFailed {
		return fmt.Errorf("update: last run failed at stage %s: %w", s.Stage, s.Err)
	}
	return nil
}

// Start registers the update pipeline on cfg.Global.Cron_Expression and
// begins running it. A trigger that fires while the previous run is
// still in progress is skipped, not queued. Call Stop to halt the
// schedule.
func (c *Coordinator) Start(ctx context.Context) error {
	loc, err := time.LoadLocation(c.cfg.Global.Cron_Timezone)
	if err != nil {
		return fmt.Errorf("update: invalid Cron-Timezone: %w", err)
	}
	c.cron = cron.New(cron.WithLocation(loc), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err = c.cron.AddFunc(c.cfg.Global.Cron_Expression, func() {
		c.RunOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("update: invalid Cron-Expression: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the cron schedule, waiting for an in-progress run to
// finish.
func (c *Coordinator) Stop() {
	if c.cron != nil {
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
	}
}

// RunOnce executes exactly one pass of the pipeline, honoring
// cfg.Global.Run_Timeout. It acquires the local flock and, if
// configured, the distributed Redis lock before touching anything; a
// run that can't acquire either lock is recorded as skipped rather than
// failed, since a second coordinator instance racing the same schedule
// is expected, not exceptional.
func (c *Coordinator) RunOnce(parent context.Context) Status {
	started := time.Now()
	c.setStatus(Status{State: StateInProgress, Stage: StageLocking, StartedAt: started})

	locked, err := c.fileLock.TryLock()
	if err != nil {
		return c.fail(StageLocking, started, fmt.Errorf("acquiring local lock: %w", err))
	}
	if !locked {
		return c.skip(started, ErrLockContention)
	}
	defer c.fileLock.Unlock()

	if c.distLock != nil {
		ok, stale, err := c.acquireDistributed(parent)
		if err != nil {
			return c.fail(StageLocking, started, fmt.Errorf("acquiring distributed lock: %w", err))
		}
		if !ok {
			return c.skip(started, ErrLockContention)
		}
		if stale {
			c.lg.Warnf("%v, broke it and re-acquired", ErrStaleLock)
		}
		defer c.distLock.Release(parent)
	}

	ctx, cancel := context.WithTimeout(parent, c.cfg.Global.RunTimeout())
	defer cancel()

	res, stage, err := c.runPipeline(ctx)
	if err != nil {
		return c.fail(stage, started, err)
	}
	return c.complete(started, res)
}

// acquireDistributed attempts to take the distributed lock. If it's
// already held, it checks whether the holder is a dead process on this
// same host (spec.md §4.F's stale-lock detection): if so, it breaks the
// lock via a compare-and-delete against the holder's exact stored
// value and retries acquisition once. A holder that's still alive, or
// that lives on a different host (which this process has no way to
// probe), is reported as ordinary contention: ok=false, no error.
func (c *Coordinator) acquireDistributed(ctx context.Context) (ok, stale bool, err error) {
	ok, err = c.distLock.Acquire(ctx)
	if err != nil || ok {
		return ok, false, err
	}

	holder, found, err := c.distLock.CurrentHolder(ctx)
	if err != nil {
		return false, false, err
	}
	if !found {
		// The lock vanished between our failed SETNX and this read
		// (the holder released it, or its TTL expired) - retry once.
		ok, err = c.distLock.Acquire(ctx)
		return ok, false, err
	}

	hostname, _ := os.Hostname()
	if holder.Hostname != hostname || utils.ProcessAlive(holder.PID) {
		return false, false, nil
	}

	deleted, err := c.distLock.ForceDelete(ctx, holder.Raw)
	if err != nil {
		return false, false, err
	}
	if !deleted {
		// Someone else already broke or refreshed it first.
		return false, false, nil
	}
	ok, err = c.distLock.Acquire(ctx)
	return ok, true, err
}

func (c *Coordinator) runPipeline(ctx context.Context) (load.Result, string, error) {
	c.setStage(StageFetch)
	if err := c.fetchAll(ctx); err != nil {
		return load.Result{}, StageFetch, err
	}

	c.setStage(StageMerge)
	mergedPath, _, err := merge.Merge(c.cfg.Global.Staging_Dir, c.cfg.Global.Merged_Dir)
	if err != nil {
		return load.Result{}, StageMerge, err
	}

	c.setStage(StageLoad)
	res, err := load.Load(ctx, c.lg, c.idx, mergedPath, c.stageName, c.liveName)
	if err != nil {
		return load.Result{}, StageLoad, err
	}
	return res, StageLoad, nil
}

// fetchAll runs every configured feed plugin concurrently. A plugin
// configured with Abort-On-Fail fails the whole run on error; any other
// plugin's failure (at Fetch or Validate) is logged and its
// contribution simply omitted from this cycle, per spec.md §4.A/§7's
// FeedFetchFailed policy.
func (c *Coordinator) fetchAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, fc := range c.cfg.Feed {
		name, fc := name, fc
		g.Go(func() error {
			p, err := feed.New(name, fc)
			if err != nil {
				return fmt.Errorf("feed %q: %w", name, err)
			}
			p.SetLogger(c.lg)
			meta := p.Metadata()

			path, ferr := p.Fetch(gctx, c.cfg.Global.Staging_Dir)
			if ferr == nil {
				ferr = p.Validate(path)
			}
			if ferr == nil {
				return nil
			}
			if meta.AbortOnFail {
				return fmt.Errorf("feed %q: %w", name, ferr)
			}
			c.lg.Warnf("update: feed %q failed, omitting its contribution this cycle: %v", name, ferr)
			// Drop whatever this feed left in the staging directory (a
			// partial file from this run or an earlier cycle's output) so
			// the merge does not pick it up.
			_ = os.Remove(c.cfg.Global.Staging_Dir + "/" + meta.Name + ".staging")
			return nil
		})
	}
	return g.Wait()
}

func (c *Coordinator) setStatus(s Status) {
	c.mtx.Lock()
	c.status = s
	c.mtx.Unlock()
}

func (c *Coordinator) setStage(stage string) {
	c.mtx.Lock()
	c.status.Stage = stage
	c.mtx.Unlock()
}

func (c *Coordinator) fail(stage string, started time.Time, err error) Status {
	s := Status{State: StateFailed, Stage: stage, Err: err, StartedAt: started, EndedAt: time.Now()}
	c.setStatus(s)
	c.lg.Errorf("update: run failed at stage %s: %v", stage, err)
	return s
}

func (c *Coordinator) skip(started time.Time, reason error) Status {
	s := Status{State: StateSkipped, Stage: StageLocking, Err: reason, StartedAt: started, EndedAt: time.Now()}
	c.setStatus(s)
	c.lg.Infof("update: run skipped: %v", reason)
	return s
}

func (c *Coordinator) complete(started time.Time, res load.Result) Status {
	s := Status{State: StateCompleted, Stage: StageLoad, StartedAt: started, EndedAt: time.Now(), Result: res}
	c.setStatus(s)
	if c.cfg.Global.Invalidate_Cache_On_Swap && c.cache != nil {
		if err := c.cache.Flush(context.Background()); err != nil {
			c.lg.Warnf("update: cache flush after swap failed: %v", err)
		}
	}
	c.lg.Infof("update: run completed: %d records from %d input lines", res.RecordCount, res.InputLines)
	return s
}
