/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const validConfig = `
[Global]
Store-Backend = redis
Redis-Address = localhost:6379
Staging-Dir = /var/lib/rangewatch/staging
Cron-Expression = 0 0 * * *
Cache-TTL = 24h

[Feed "cloudflare"]
Type = simplelist
URL = https://www.cloudflare.com/ips-v4
Tag-Type = cloudnet

[Feed "aws"]
Type = jsonfeed
URL = https://ip-ranges.amazonaws.com/ip-ranges.json
JSON-Path = prefixes
Tag-Type = cloudnet
`

func TestLoadBytesValid(t *testing.T) {
	c, err := LoadBytes([]byte(validConfig))
	require.NoError(t, err)
	require.Equal(t, BackendRedis, c.Global.Store_Backend)
	require.Equal(t, defaultKeyPrefix, c.Global.Key_Prefix)
	require.Equal(t, 24*time.Hour, c.Global.CacheTTL())
	require.Len(t, c.Feed, 2)
	require.Equal(t, "cloudflare", c.Feed["cloudflare"].Source_Name)
}

func TestLoadBytesMissingFeeds(t *testing.T) {
	_, err := LoadBytes([]byte(`
[Global]
Store-Backend = bolt
Bolt-Path = /var/lib/rangewatch/index.db
Staging-Dir = /tmp/staging
Cron-Expression = 0 0 * * *
`))
	require.ErrorIs(t, err, ErrNoFeeds)
}

func TestLoadBytesUnknownBackend(t *testing.T) {
	_, err := LoadBytes([]byte(`
[Global]
Store-Backend = mongo
Staging-Dir = /tmp/staging
Cron-Expression = 0 0 * * *

[Feed "x"]
Type = simplelist
URL = https://example.com/list.txt
`))
	require.ErrorIs(t, err, ErrUnknownBackend)
}

func TestLoadBytesFeedMissingURL(t *testing.T) {
	_, err := LoadBytes([]byte(`
[Global]
Store-Backend = redis
Redis-Address = localhost
Staging-Dir = /tmp/staging
Cron-Expression = 0 0 * * *

[Feed "x"]
Type = simplelist
`))
	require.ErrorIs(t, err, ErrMissingFeedURL)
}

func TestParseRate(t *testing.T) {
	bps, err := ParseRate("2mbit")
	require.NoError(t, err)
	require.Equal(t, int64(2*1024*1024/8), bps)

	bps, err = ParseRate("")
	require.NoError(t, err)
	require.Zero(t, bps)

	_, err = ParseRate("500")
	require.Error(t, err)
}

func TestAppendDefaultPort(t *testing.T) {
	require.Equal(t, "localhost:6379", AppendDefaultPort("localhost", 6379))
	require.Equal(t, "localhost:1234", AppendDefaultPort("localhost:1234", 6379))
}
