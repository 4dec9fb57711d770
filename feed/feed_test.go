/*************************************************************************
 * Copyright 2026 Rangewatch Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/tag"
)

func TestNewUnknownType(t *testing.T) {
	_, err := New("x", &config.Feed{Type: "bogus"})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestSimpleListFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "# comment\n173.245.48.0/20\n\n103.21.244.0/22\n")
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Feed{Type: "simplelist", URL: srv.URL, Source_Name: "cloudflare", Tag_Type: "cloudnet", Timeout: "5s"}
	p := newSimpleList(Metadata{Name: "cloudflare", Type: "simplelist", Source: "cloudflare", TagType: "cloudnet"}, cfg)

	path, err := p.Fetch(context.Background(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	_, _, tg, err := tag.DecodeLine(lines[0])
	require.NoError(t, err)
	require.Equal(t, "cloudnet", tg.Type())
	require.Equal(t, "cloudflare", tg.Source())

	require.NoError(t, p.Validate(path))
}

func TestNewSetsMetadataFromConfig(t *testing.T) {
	cfg := &config.Feed{Type: "simplelist", URL: "http://example.invalid", Source_Name: "cloudflare", Tag_Type: "denylist", Abort_On_Fail: true}
	p, err := New("cloudflare", cfg)
	require.NoError(t, err)

	meta := p.Metadata()
	require.Equal(t, "simplelist", meta.Type)
	require.NotEmpty(t, meta.Version)
	require.NotEmpty(t, meta.Description)
	require.True(t, meta.AbortOnFail)
}

func TestValidateRejectsEmptyStagingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.staging")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	p := newSimpleList(Metadata{Name: "x"}, &config.Feed{})
	require.ErrorIs(t, p.Validate(path), ErrEmptyStagingFile)
}

func TestJSONFeedFetch(t *testing.T) {
	doc := map[string]interface{}{
		"prefixes": []map[string]string{
			{"ip_prefix": "10.0.0.0/8"},
			{"ip_prefix": "172.16.0.0/12"},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(doc)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Feed{
		Type: "jsonfeed", URL: srv.URL, Source_Name: "aws", Tag_Type: "cloudnet",
		JSON_Path: "prefixes", CIDR_Field: "ip_prefix", Timeout: "5s",
	}
	p := newJSONFeed(Metadata{Name: "aws", Source: "aws", TagType: "cloudnet"}, cfg)

	path, err := p.Fetch(context.Background(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
}

func TestMaxMindFetch(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	fw, err := zw.Create("GeoLite2-ASN-Blocks-IPv4.csv")
	require.NoError(t, err)
	fw.Write([]byte("network,autonomous_system_number,autonomous_system_organization\n" +
		"1.1.1.0/24,13335,Cloudflare Inc\n"))
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Feed{Type: "maxmind", URL: srv.URL, Source_Name: "maxmind_lite", Tag_Type: "asn", Timeout: "5s"}
	p := newMaxMind(Metadata{Name: "maxmind", Source: "maxmind_lite", TagType: "asn"}, cfg)

	path, err := p.Fetch(context.Background(), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "13335")
	require.True(t, filepath.IsAbs(path) || strings.Contains(path, dir))
}
