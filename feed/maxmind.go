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
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	kflate "github.com/klauspost/compress/flate"

	"github.com/rangewatch/rangewatch/config"
	"github.com/rangewatch/rangewatch/log"
	"github.com/rangewatch/rangewatch/tag"
)

func init() {
	// klauspost/compress's flate decompressor is faster than the
	// stdlib one archive/zip falls back to; the GeoLite2 CSV bundle is
	// large enough (tens of MB) for that to matter on every run.
	zip.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return kflate.NewReader(r)
	})
}

const (
	maxmindDownloadURLFmt = "%s?edition_id=%s&license_key=%s&suffix=zip"

	csvNetworkCol = 0
	csvASNCol     = 1
	csvOrgCol     = 2
)

// maxMind fetches MaxMind's GeoLite2-ASN-CSV bundle (a zip archive
// containing an IPv4 blocks CSV) and emits one asn-tagged range per
// row.
type maxMind struct {
	meta Metadata
	cfg  *config.Feed
	lg   *log.Logger
}

func newMaxMind(meta Metadata, cfg *config.Feed) *maxMind {
	return &maxMind{meta: meta, cfg: cfg, lg: log.NewDiscardLogger()}
}

func (m *maxMind) Metadata() Metadata { return m.meta }

func (m *maxMind) SetLogger(lg *log.Logger) { m.lg = lg }

func (m *maxMind) Validate(file string) error { return validateStagingFile(file) }

func (m *maxMind) Fetch(ctx context.Context, stagingDir string) (string, error) {
	rc := newRetryClient(m.cfg.FeedTimeout(), nil, m.lg)

	url := m.cfg.URL
	if m.cfg.License_Key != "" {
		url = fmt.Sprintf(maxmindDownloadURLFmt, m.cfg.URL, m.cfg.Edition_ID, m.cfg.License_Key)
	}
	body, err := rc.Get(ctx, url)
	if err != nil {
		return "", err
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", fmt.Errorf("maxmind %s: %w", m.meta.Name, err)
	}

	var blocksFile *zip.File
	for _, zf := range zr.File {
		if strings.HasSuffix(zf.Name, "-Blocks-IPv4.csv") {
			blocksFile = zf
			break
		}
	}
	if blocksFile == nil {
		return "", fmt.Errorf("maxmind %s: no IPv4 blocks CSV found in archive", m.meta.Name)
	}

	rdr, err := blocksFile.Open()
	if err != nil {
		return "", err
	}
	defer rdr.Close()

	f, path, err := stagingFile(stagingDir, m.meta.Name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cr := csv.NewReader(rdr)
	cr.FieldsPerRecord = -1
	if _, err := cr.Read(); err != nil {
		return "", fmt.Errorf("maxmind %s: reading csv header: %w", m.meta.Name, err)
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("maxmind %s: reading csv row: %w", m.meta.Name, err)
		}
		if len(rec) <= csvOrgCol {
			continue
		}
		t := tag.Tag{
			"type":   m.meta.TagType,
			"source": m.meta.Source,
			"asn":    rec[csvASNCol],
			"name":   rec[csvOrgCol],
		}
		if err := writeRange(m.lg, f, rec[csvNetworkCol], t); err != nil {
			return "", err
		}
	}
	return path, nil
}
