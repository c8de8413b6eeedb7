/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package fetch performs the single streaming GET used in poll mode.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
)

// Response headers understood by the fetcher. All of them are optional.
const (
	HeaderBrightness = "Loqa-Brightness"
	HeaderDwellSecs  = "Loqa-Dwell-Secs"
	HeaderUpdateURL  = "Loqa-Update-URL"
	HeaderFirmware   = "X-Firmware-Version"
)

// MaxHeaderDwell is the exclusive upper bound for a dwell override.
const MaxHeaderDwell = 300

// StatusError reports a failed fetch. StatusCode is the HTTP status, 413 for
// oversize content and 0 for network failures.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch failed (status %d): %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode extracts the status from err, or -1 if err is not a StatusError.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return -1
}

// Result of a successful fetch.
type Result struct {
	Buffer     *content.Buffer
	Brightness mo.Option[int]
	DwellSecs  mo.Option[int]
	UpdateURL  string
	StatusCode int
}

// AssetPlayer is asked to show the oversize asset when content is too large.
type AssetPlayer interface {
	PlayAsset(name string, immediate bool) error
}

// Config for a Fetcher.
type Config struct {
	MaxSize         int
	InitialSize     int
	Timeout         time.Duration
	FirmwareVersion string
}

// Fetcher downloads image content.
type Fetcher struct {
	client *http.Client
	cfg    Config
	assets AssetPlayer
	log    *logrus.Entry
}

// New creates a fetcher. assets may be nil.
func New(cfg Config, assets AssetPlayer) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.InitialSize <= 0 || cfg.InitialSize > cfg.MaxSize {
		cfg.InitialSize = min(64*1024, cfg.MaxSize)
	}
	return &Fetcher{
		client: &http.Client{Timeout: cfg.Timeout, Transport: newTransport()},
		cfg:    cfg,
		assets: assets,
		log:    logging.For("fetch"),
	}
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 2
	t.MaxIdleConnsPerHost = 2
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 15 * time.Second
	return t
}

// Fetch performs one GET of url. The returned buffer belongs to the caller.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &StatusError{Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if f.cfg.FirmwareVersion != "" {
		req.Header.Set(HeaderFirmware, f.cfg.FirmwareVersion)
	}

	f.log.Debugf("🌐 GET %s", url)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &StatusError{Err: err}
	}
	defer resp.Body.Close()

	if resp.ContentLength > int64(f.cfg.MaxSize) {
		return nil, f.oversize(resp.ContentLength)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, received, err := f.readBody(resp)
	if err != nil {
		if errors.Is(err, content.ErrTooLarge) {
			return nil, f.oversize(int64(received))
		}
		return nil, &StatusError{Err: fmt.Errorf("failed to read body: %w", err)}
	}
	if len(data) == 0 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Err: errors.New("empty body")}
	}

	result := &Result{
		Buffer:     content.New(data),
		Brightness: f.brightness(resp.Header),
		DwellSecs:  f.dwell(resp.Header),
		UpdateURL:  strings.TrimSpace(resp.Header.Get(HeaderUpdateURL)),
		StatusCode: resp.StatusCode,
	}
	f.log.Infof("📥 Fetched %d bytes", len(data))
	return result, nil
}

// readBody also reports how many bytes arrived, which exceeds MaxSize when
// the read was cut short by the cap.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, int, error) {
	size := f.cfg.InitialSize
	if resp.ContentLength > 0 {
		size = int(resp.ContentLength)
	}
	buf := make([]byte, 0, size)
	chunk := make([]byte, 8*1024)

	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			var gerr error
			received := len(buf) + n
			buf, gerr = content.Grow(buf, n, f.cfg.MaxSize)
			if gerr != nil {
				return nil, received, gerr
			}
			buf = append(buf, chunk[:n]...)
		}
		if errors.Is(err, io.EOF) {
			return buf, len(buf), nil
		}
		if err != nil {
			return nil, len(buf), err
		}
	}
}

func (f *Fetcher) oversize(size int64) error {
	f.log.Warnf("⚠️  Content too large (%d bytes, max %d)", size, f.cfg.MaxSize)
	if f.assets != nil {
		if err := f.assets.PlayAsset("oversize", true); err != nil {
			f.log.Warnf("⚠️  Could not show oversize asset: %v", err)
		}
	}
	return &StatusError{StatusCode: http.StatusRequestEntityTooLarge, Err: content.ErrTooLarge}
}

func (f *Fetcher) brightness(h http.Header) mo.Option[int] {
	raw := strings.TrimSpace(h.Get(HeaderBrightness))
	if raw == "" {
		return mo.None[int]()
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		f.log.Warnf("⚠️  Ignoring brightness header %q", raw)
		return mo.None[int]()
	}
	return mo.Some(lo.Clamp(v, 0, 100))
}

func (f *Fetcher) dwell(h http.Header) mo.Option[int] {
	raw := strings.TrimSpace(h.Get(HeaderDwellSecs))
	if raw == "" {
		return mo.None[int]()
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v >= MaxHeaderDwell {
		f.log.Warnf("⚠️  Ignoring dwell header %q", raw)
		return mo.None[int]()
	}
	return mo.Some(v)
}
