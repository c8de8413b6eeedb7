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

// Package update downloads firmware offered by the server, stages it and
// hands it to a Flasher. Triggers are fire-and-forget; one update runs at a
// time.
package update

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/display"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

var (
	// ErrInProgress is returned while another update is running.
	ErrInProgress = errors.New("update already in progress")
	// ErrUnsafeURL is returned for URLs the device refuses to download from.
	ErrUnsafeURL = errors.New("unsafe update url")
	// ErrChecksum is returned when the image does not match the advertised digest.
	ErrChecksum = errors.New("firmware checksum mismatch")
)

// HeaderSHA256 optionally carries the hex sha256 of the firmware image.
const HeaderSHA256 = "Loqa-Firmware-Sha256"

// StagedName is the file name of a fully downloaded image.
const StagedName = "firmware.bin"

// Pauser is the part of the player an update needs.
type Pauser interface {
	Pause()
	Resume()
}

// Flasher installs a staged image.
type Flasher interface {
	Flash(ctx context.Context, path string, sum []byte) error
}

// Restarter restarts the device.
type Restarter interface {
	Restart(reason string)
}

// Config tunes downloads.
type Config struct {
	StagingDir      string
	MaxSize         int64
	Timeout         time.Duration
	FirmwareVersion string
	// FailHold is how long "UPDATE FAIL" stays on the panel.
	FailHold time.Duration
	Resolver Resolver
}

// Deps are the collaborators of an Updater.
type Deps struct {
	Player    Pauser
	Sink      display.Sink
	Flasher   Flasher
	Restarter Restarter
}

// Updater runs firmware updates.
type Updater struct {
	fs     afero.Fs
	cfg    Config
	deps   Deps
	client *http.Client
	log    *logrus.Entry

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates an updater that stages files on fs.
func New(fs afero.Fs, cfg Config, deps Deps) *Updater {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 64 << 20
	}
	if cfg.FailHold <= 0 {
		cfg.FailHold = 2 * time.Second
	}
	if cfg.Resolver == nil {
		cfg.Resolver = defaultResolver
	}
	return &Updater{
		fs:     fs,
		cfg:    cfg,
		deps:   deps,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    logging.For("update"),
	}
}

// Trigger starts an update in the background and returns at once.
func (u *Updater) Trigger(url string) {
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		if err := u.Run(context.Background(), url); err != nil {
			u.log.Errorf("❌ Update failed: %v", err)
		}
	}()
}

// Wait blocks until every triggered update has finished.
func (u *Updater) Wait() {
	u.wg.Wait()
}

// InProgress reports whether an update is running.
func (u *Updater) InProgress() bool {
	return u.running.Load()
}

// Run performs one update synchronously.
func (u *Updater) Run(ctx context.Context, url string) error {
	if !u.running.CompareAndSwap(false, true) {
		return ErrInProgress
	}
	defer u.running.Store(false)

	if err := ValidateURL(ctx, u.cfg.Resolver, url); err != nil {
		return err
	}

	u.log.Infof("📦 Starting update from %s", url)
	u.deps.Player.Pause()
	u.progress(0)

	path, sum, err := u.download(ctx, url)
	if err == nil {
		u.log.Infof("🔒 Staged %s (sha256 %s)", path, hex.EncodeToString(sum))
		err = u.deps.Flasher.Flash(ctx, path, sum)
		if err != nil {
			err = fmt.Errorf("failed to flash: %w", err)
		}
	}
	if err != nil {
		u.banner("UPDATE FAIL", display.ErrorRed)
		sleepCtx(ctx, u.cfg.FailHold)
		u.deps.Player.Resume()
		return err
	}

	u.banner("REBOOT", display.White)
	u.log.Info("✅ Update installed, restarting")
	u.deps.Restarter.Restart("firmware update installed")
	return nil
}

func (u *Updater) download(ctx context.Context, url string) (string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Firmware-Version", u.cfg.FirmwareVersion)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			u.log.Warnf("⚠️ Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if resp.ContentLength > u.cfg.MaxSize {
		return "", nil, fmt.Errorf("firmware too large: %d bytes (max %d)", resp.ContentLength, u.cfg.MaxSize)
	}

	if err := u.fs.MkdirAll(u.cfg.StagingDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	tmp, err := afero.TempFile(u.fs, u.cfg.StagingDir, "firmware-*.part")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = u.fs.Remove(tmpPath) }

	hash := sha256.New()
	pw := &progressWriter{total: resp.ContentLength, report: u.progress}
	n, err := io.Copy(io.MultiWriter(tmp, hash, pw), io.LimitReader(resp.Body, u.cfg.MaxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write firmware: %w", err)
	}
	if n > u.cfg.MaxSize {
		cleanup()
		return "", nil, fmt.Errorf("firmware too large: more than %d bytes", u.cfg.MaxSize)
	}
	if n == 0 {
		cleanup()
		return "", nil, errors.New("empty firmware image")
	}

	sum := hash.Sum(nil)
	if want := strings.TrimSpace(resp.Header.Get(HeaderSHA256)); want != "" && !strings.EqualFold(want, hex.EncodeToString(sum)) {
		cleanup()
		return "", nil, fmt.Errorf("%w: got %x, want %s", ErrChecksum, sum, want)
	}

	final := filepath.Join(u.cfg.StagingDir, StagedName)
	if err := u.fs.Rename(tmpPath, final); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to stage firmware: %w", err)
	}
	u.progress(100)
	return final, sum, nil
}

// progress draws the update screen with a bar filled to pct.
func (u *Updater) progress(pct int) {
	sink := u.deps.Sink
	w, h := sink.Size()
	sink.Clear()
	sink.DrawText("UPDATE", 0, 0, display.White)

	bar := image.Rect(0, h-6, w, h-2)
	sink.FillRect(bar, display.Black)
	filled := bar
	filled.Max.X = bar.Min.X + bar.Dx()*min(max(pct, 0), 100)/100
	if filled.Dx() > 0 {
		sink.FillRect(filled, display.White)
	}
}

func (u *Updater) banner(text string, c color.Color) {
	u.deps.Sink.Clear()
	u.deps.Sink.DrawText(text, 0, 0, c)
}

type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(pct int)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		pct := int(p.written * 100 / p.total)
		if pct >= p.last+10 {
			p.last = pct
			p.report(min(pct, 100))
		}
	}
	return len(b), nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
