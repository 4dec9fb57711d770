/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package redislock implements the single-writer lock the update
// coordinator holds for the duration of one update run, so two
// coordinator instances (two hosts, or a slow run overlapping its own
// next cron fire) never build and swap the index concurrently.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrNotHeld = errors.New("redislock: lock is not held by this token")
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

const refreshScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`

// Lock is a SETNX-based distributed lock scoped to one key, with a TTL
// that bounds how long a crashed holder can block the next run.
type Lock struct {
	rdb   redis.UniversalClient
	key   string
	ttl   time.Duration
	token string
}

// New returns a Lock for key. Acquire must be called before Release or
// Refresh.
func New(rdb redis.UniversalClient, key string, ttl time.Duration) *Lock {
	return &Lock{rdb: rdb, key: key, ttl: ttl}
}

// Holder describes who currently holds (or last held) the lock, parsed
// from its stored value, for status reporting and stale-lock
// diagnostics.
type Holder struct {
	Token    string
	PID      int
	Hostname string
	Acquired time.Time

	// Raw is the exact stored value this Holder was parsed from, needed
	// to compare-and-delete a confirmed-stale entry via ForceDelete.
	Raw string
}

// Acquire attempts to take the lock, stamping the value with this
// process's PID and hostname for diagnostics. ok is false if another
// holder already owns it.
func (l *Lock) Acquire(ctx context.Context) (ok bool, err error) {
	l.token = uuid.New().String()
	hostname, _ := os.Hostname()
	value := fmt.Sprintf("%s|%d|%s|%d", l.token, os.Getpid(), hostname, time.Now().Unix())
	ok, err = l.rdb.SetNX(ctx, l.key, value, l.ttl).Result()
	return
}

// Release drops the lock, but only if it's still held by this Lock's
// token — a compare-and-delete via Lua script, so a Release call from
// a run whose TTL already expired and was reacquired by someone else
// doesn't delete the new holder's lock out from under them.
func (l *Lock) Release(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	n, err := l.rdb.Eval(ctx, releaseScript, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Refresh extends the lock's TTL, for a run that's still healthy but
// approaching the original deadline.
func (l *Lock) Refresh(ctx context.Context) error {
	if l.token == "" {
		return ErrNotHeld
	}
	n, err := l.rdb.Eval(ctx, refreshScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// CurrentHolder reads and parses the lock's current value, if any, for
// status reporting and stale-lock diagnostics.
func CurrentHolder(ctx context.Context, rdb redis.UniversalClient, key string) (Holder, bool, error) {
	v, err := rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Holder{}, false, nil
	}
	if err != nil {
		return Holder{}, false, err
	}
	h := Holder{Raw: v}
	var ts int64
	parts := splitN(v, '|', 4)
	if len(parts) == 4 {
		h.Token = parts[0]
		fmt.Sscanf(parts[1], "%d", &h.PID)
		h.Hostname = parts[2]
		fmt.Sscanf(parts[3], "%d", &ts)
		h.Acquired = time.Unix(ts, 0)
	}
	return h, true, nil
}

// CurrentHolder is the (*Lock) form of the package-level function, for
// callers that already have a Lock handle.
func (l *Lock) CurrentHolder(ctx context.Context) (Holder, bool, error) {
	return CurrentHolder(ctx, l.rdb, l.key)
}

// ForceDelete removes the lock only if its stored value still equals
// expectedValue — the same compare-and-delete Release uses, but usable
// by a caller that never itself acquired the lock: the update
// coordinator breaking a lock it has confirmed is held by a dead
// process on the local host.
func (l *Lock) ForceDelete(ctx context.Context, expectedValue string) (bool, error) {
	n, err := l.rdb.Eval(ctx, releaseScript, []string{l.key}, expectedValue).Int()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

func splitN(s string, sep byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}
