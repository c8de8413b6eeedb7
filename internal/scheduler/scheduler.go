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

// Package scheduler decides what the panel shows next. In poll mode it
// fetches content over HTTP and prefetches the next image before the dwell of
// the current one ends. In push mode it only reacts to the session and to
// player events.
package scheduler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/assets"
	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/fetch"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/loqalabs/loqa-display-go/internal/player"
	"github.com/loqalabs/loqa-display-go/internal/timers"
	"github.com/sirupsen/logrus"
)

// ErrStopped is returned when starting a scheduler that has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// Mode selects how content arrives.
type Mode int

const (
	ModePush Mode = iota
	ModePoll
)

func (m Mode) String() string {
	if m == ModePoll {
		return "POLL"
	}
	return "PUSH"
}

// State of the scheduler.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StateFetching
	StatePrefetching
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "PLAYING"
	case StateFetching:
		return "FETCHING"
	case StatePrefetching:
		return "PREFETCHING"
	default:
		return "IDLE"
	}
}

// Renderer takes content for playback.
type Renderer interface {
	Submit(buf *content.Buffer, dwellSecs int) (int, error)
	PlayAsset(name string, immediate bool) error
}

// Fetcher downloads one image.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Result, error)
}

// Display is the part of the panel the scheduler touches directly.
type Display interface {
	SetBrightness(pct int)
	DrawErrorIndicator()
}

// UpdateTrigger starts a firmware update without blocking.
type UpdateTrigger interface {
	Trigger(url string)
}

// Config tunes the timers.
type Config struct {
	PrefetchLead time.Duration
	RetryDelay   time.Duration
}

// DefaultConfig returns the production timer settings.
func DefaultConfig() Config {
	return Config{
		PrefetchLead: 2 * time.Second,
		RetryDelay:   5 * time.Second,
	}
}

// Deps are the collaborators of a Scheduler. Updater may be nil.
type Deps struct {
	Renderer Renderer
	Fetcher  Fetcher
	Display  Display
	Updater  UpdateTrigger
	Dwell    *config.Dwell
}

// Scheduler drives the player from fetch results, timers and events.
type Scheduler struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	mode        Mode
	state       State
	url         string
	stopped     bool
	inFlight    bool
	fetchCount  int
	lastCounter int

	prefetch timers.OneShot
	retry    timers.OneShot
}

// New creates an idle scheduler in push mode.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.PrefetchLead <= 0 {
		cfg.PrefetchLead = DefaultConfig().PrefetchLead
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		log:    logging.For("scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// StartHTTP switches to poll mode and fetches from url right away.
func (s *Scheduler) StartHTTP(url string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.mode = ModePoll
	s.url = url
	s.state = StateFetching
	s.mu.Unlock()

	s.log.Infof("🌐 Polling %s", url)
	s.triggerFetch()
	return nil
}

// StartPush switches to push mode and waits for the server.
func (s *Scheduler) StartPush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.mode = ModePush
	s.state = StateIdle
	s.log.Info("📡 Waiting for pushed content")
	return nil
}

// Stop disarms every timer and cancels an in-flight fetch.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.state = StateIdle
	s.mu.Unlock()

	s.prefetch.Disarm()
	s.retry.Disarm()
	s.cancel()
}

// Run consumes player events until ctx is done or the stream closes.
func (s *Scheduler) Run(ctx context.Context, events <-chan player.Event) {
	defer s.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// Mode returns the current mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FetchCount is the number of fetch tasks spawned so far.
func (s *Scheduler) FetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCount
}

// PrefetchArmed reports whether the prefetch timer is pending.
func (s *Scheduler) PrefetchArmed() bool { return s.prefetch.Armed() }

// RetryArmed reports whether the retry timer is pending.
func (s *Scheduler) RetryArmed() bool { return s.retry.Armed() }

// HandleEvent applies one player event.
func (s *Scheduler) HandleEvent(ev player.Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if s.mode == ModePush {
		s.handlePushEvent(ev)
		return
	}
	s.handlePollEvent(ev)
}

// handlePushEvent is called with s.mu held and releases it.
func (s *Scheduler) handlePushEvent(ev player.Event) {
	switch ev.Type {
	case player.EventPlaying:
		s.state = StatePlaying
		s.mu.Unlock()
	case player.EventStopped:
		if !ev.Pending {
			s.state = StateIdle
		}
		s.mu.Unlock()
	case player.EventError:
		s.state = StateIdle
		s.mu.Unlock()
		s.deps.Display.DrawErrorIndicator()
	default:
		s.mu.Unlock()
	}
}

// handlePollEvent is called with s.mu held and releases it.
func (s *Scheduler) handlePollEvent(ev player.Event) {
	switch ev.Type {
	case player.EventPlaying:
		own := s.state == StatePlaying && ev.Counter == s.lastCounter && ev.Asset == ""
		s.mu.Unlock()
		if !own {
			return
		}
		if ev.Dwell > s.cfg.PrefetchLead {
			wait := ev.Dwell - s.cfg.PrefetchLead
			s.log.Debugf("⏳ Prefetch in %s (counter=%d)", wait, ev.Counter)
			s.prefetch.Arm(wait, s.onPrefetchTimer)
		}

	case player.EventStopped:
		if s.state != StatePlaying && s.state != StatePrefetching {
			s.mu.Unlock()
			return
		}
		if ev.Pending {
			// The next image is already queued in the player.
			s.state = StatePlaying
			s.mu.Unlock()
			return
		}
		s.state = StateFetching
		wait := s.inFlight
		s.mu.Unlock()

		s.prefetch.Disarm()
		if wait {
			s.log.Debug("⏳ Dwell ended, waiting for prefetch")
			return
		}
		s.triggerFetch()

	case player.EventError:
		s.state = StateIdle
		s.mu.Unlock()

		s.log.Warnf("❌ Playback error (code=%d), retrying in %s", ev.Code, s.cfg.RetryDelay)
		s.prefetch.Disarm()
		s.deps.Display.DrawErrorIndicator()
		s.retry.Arm(s.cfg.RetryDelay, s.onRetryTimer)

	default:
		s.mu.Unlock()
	}
}

// OnConnect is called when a push session opens.
func (s *Scheduler) OnConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModePush || s.stopped {
		return
	}
	s.state = StateIdle
	s.log.Info("🔗 Session open, waiting for content")
}

// OnDisconnect is called when a push session is lost.
func (s *Scheduler) OnDisconnect() {
	s.mu.Lock()
	if s.mode != ModePush || s.stopped {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.prefetch.Disarm()
	s.retry.Disarm()
	if err := s.deps.Renderer.PlayAsset(assets.Disconnected, true); err != nil {
		s.log.Warnf("⚠️  Could not show disconnected asset: %v", err)
	}
}

func (s *Scheduler) onPrefetchTimer() {
	s.mu.Lock()
	if s.stopped || s.mode != ModePoll || s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.state = StatePrefetching
	s.mu.Unlock()

	s.log.Debug("⏩ Prefetching next image")
	s.triggerFetch()
}

func (s *Scheduler) onRetryTimer() {
	s.mu.Lock()
	if s.stopped || s.mode != ModePoll || s.state != StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateFetching
	s.mu.Unlock()

	s.log.Info("🔄 Retrying fetch")
	s.triggerFetch()
}

// triggerFetch spawns a background fetch unless one is already running.
func (s *Scheduler) triggerFetch() bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false
	}
	if s.inFlight {
		s.mu.Unlock()
		s.log.Warn("⚠️  Fetch already in flight, ignoring trigger")
		return false
	}
	s.inFlight = true
	s.fetchCount++
	url := s.url
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		res, err := s.deps.Fetcher.Fetch(ctx, url)
		s.onFetchDone(res, err)
	}()
	return true
}

// onFetchDone leaves inFlight set until apply or fail has moved the state,
// so a STOPPED event in between waits for this result.
func (s *Scheduler) onFetchDone(res *fetch.Result, err error) {
	s.mu.Lock()
	if s.stopped || s.mode != ModePoll {
		s.inFlight = false
		s.mu.Unlock()
		if res != nil {
			res.Buffer.Release()
		}
		return
	}
	s.mu.Unlock()

	if err != nil {
		s.fail(err)
		return
	}
	s.apply(res)
}

func (s *Scheduler) apply(res *fetch.Result) {
	if pct, ok := res.Brightness.Get(); ok {
		s.deps.Display.SetBrightness(pct)
	}
	if res.UpdateURL != "" {
		if s.deps.Updater != nil {
			s.log.Infof("📦 Update offered: %s", res.UpdateURL)
			s.deps.Updater.Trigger(res.UpdateURL)
		} else {
			s.log.Warn("⚠️  Update offered but no updater configured")
		}
	}

	// A dwell header becomes the new default for later images.
	dwell := s.deps.Dwell.Get()
	if secs, ok := res.DwellSecs.Get(); ok {
		dwell = s.deps.Dwell.Set(secs)
	}
	size := res.Buffer.Len()

	// Held across Submit so the PLAYING event for this counter is handled
	// only after lastCounter is set.
	s.mu.Lock()
	counter, err := s.deps.Renderer.Submit(res.Buffer, dwell)
	if err != nil {
		s.mu.Unlock()
		res.Buffer.Release()
		s.fail(err)
		return
	}
	s.lastCounter = counter
	s.state = StatePlaying
	s.inFlight = false
	s.mu.Unlock()

	s.retry.Disarm()

	s.log.Infof("🖼️  Submitted %d bytes (counter=%d, dwell=%ds)", size, counter, dwell)
}

// fail applies the failure policy: indicator, fallback asset for missing
// content, retry timer and IDLE.
func (s *Scheduler) fail(err error) {
	code := fetch.StatusCode(err)
	s.log.Warnf("❌ Fetch failed: %v", err)

	s.mu.Lock()
	s.state = StateIdle
	s.inFlight = false
	s.mu.Unlock()

	s.prefetch.Disarm()
	s.deps.Display.DrawErrorIndicator()

	switch code {
	case http.StatusNotFound, http.StatusBadRequest:
		if err := s.deps.Renderer.PlayAsset(assets.NotFound, false); err != nil {
			s.log.Warnf("⚠️  Could not show not-found asset: %v", err)
		}
	case http.StatusRequestEntityTooLarge:
		// The fetcher already queued the oversize asset.
	}

	s.retry.Arm(s.cfg.RetryDelay, s.onRetryTimer)
}
