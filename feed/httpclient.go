/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rangewatch/rangewatch/log"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 10 * time.Second
	maxRetries     = 3
)

var retryableStatus = []int{425, 429}

// retryClient fetches a feed's body over HTTP, retrying on transient
// failures with capped exponential backoff and an optional rate
// limiter, so a noisy or throttling upstream doesn't abort a whole
// update run on the first hiccup.
type retryClient struct {
	cli *http.Client
	rl  *rate.Limiter
	lg  *log.Logger
}

func newRetryClient(timeout time.Duration, rl *rate.Limiter, lg *log.Logger) *retryClient {
	return &retryClient{
		cli: &http.Client{Timeout: timeout},
		rl:  rl,
		lg:  lg,
	}
}

// Get fetches url, retrying up to maxRetries times with doubling
// backoff starting at initialBackoff and capped at maxBackoff. The
// final error (if any) wraps the last failure seen.
func (rc *retryClient) Get(ctx context.Context, url string) (body []byte, err error) {
	backoff := initialBackoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if rc.rl != nil {
			if err = rc.rl.Wait(ctx); err != nil {
				return nil, err
			}
		}
		var req *http.Request
		if req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil); err != nil {
			return nil, err
		}
		var resp *http.Response
		resp, err = rc.cli.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			body, err = io.ReadAll(resp.Body)
			resp.Body.Close()
			return body, err
		}
		if err == nil {
			drain(resp)
			if !isRecoverable(resp.StatusCode) {
				return nil, fmt.Errorf("non-recoverable status %s (%d) fetching %s", resp.Status, resp.StatusCode, url)
			}
			err = fmt.Errorf("status %s (%d) fetching %s", resp.Status, resp.StatusCode, url)
		}
		if attempt == maxRetries {
			break
		}
		if rc.lg != nil {
			rc.lg.Warnf("retrying fetch of %s after error: %v", url, err)
		}
		if waitOrDone(ctx, backoff) {
			return nil, ctx.Err()
		}
		if backoff *= 2; backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return nil, fmt.Errorf("giving up fetching %s after %d attempts: %w", url, maxRetries+1, err)
}

func isRecoverable(status int) bool {
	if status >= 500 {
		return true
	}
	for _, v := range retryableStatus {
		if v == status {
			return true
		}
	}
	return false
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func waitOrDone(ctx context.Context, d time.Duration) (done bool) {
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-tmr.C:
	case <-ctx.Done():
		done = true
	}
	return
}
