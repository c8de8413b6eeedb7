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

// Package player decodes content buffers and renders them to the display
// with drift-free frame pacing. A single worker goroutine owns the active
// buffer; everything else talks to it through a one-slot mailbox.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/display"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
)

// ErrNotRunning is returned by Submit before Start. The caller keeps the buffer.
var ErrNotRunning = errors.New("player is not running")

// State of the render worker.
type State int

const (
	StateIdle State = iota
	StatePlaying
)

func (s State) String() string {
	if s == StatePlaying {
		return "PLAYING"
	}
	return "IDLE"
}

// AssetSource resolves built-in fallback assets by name.
type AssetSource interface {
	Asset(name string) (*content.Buffer, bool)
}

// Notifier is told when content is queued and when it reaches the panel.
type Notifier interface {
	Queued(counter int)
	Displaying(counter int)
}

// Config tunes the render worker.
type Config struct {
	DecodeAttempts int
	DecodeBackoff  time.Duration
	// MaxStillWait caps a single wait while holding a still image.
	MaxStillWait time.Duration
	// UnlimitedStillWait is the redraw period for stills without a dwell.
	UnlimitedStillWait time.Duration
	EventBuffer        int
	NewDecoder         DecoderFactory
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		DecodeAttempts:     3,
		DecodeBackoff:      200 * time.Millisecond,
		MaxStillWait:       60 * time.Second,
		UnlimitedStillWait: 100 * time.Millisecond,
		EventBuffer:        32,
		NewDecoder:         NewDecoder,
	}
}

type command struct {
	buf     *content.Buffer
	dwell   time.Duration
	counter int
}

// Player is the decode and render engine.
type Player struct {
	sink   display.Sink
	assets AssetSource
	cfg    Config
	log    *logrus.Entry
	events *eventBus
	wake   chan struct{}

	mu         sync.Mutex
	pending    mo.Option[command]
	stopReq    bool
	preemptReq bool
	paused     bool
	running    bool
	state      State
	submitted  int
	loaded     int
	idleCh     chan struct{}
	loadedCh   chan struct{}
	notifier   Notifier
	done       chan struct{}

	// Owned by the worker goroutine.
	active    command
	dec       Decoder
	info      Info
	playStart time.Time
	deadline  time.Time
	lastTS    time.Duration
	// decodeErrors counts consecutive failures for the active buffer.
	decodeErrors int
}

// New creates a player. Start must be called before content is submitted.
func New(sink display.Sink, assets AssetSource, cfg Config) *Player {
	def := DefaultConfig()
	if cfg.DecodeAttempts <= 0 {
		cfg.DecodeAttempts = def.DecodeAttempts
	}
	if cfg.MaxStillWait <= 0 {
		cfg.MaxStillWait = def.MaxStillWait
	}
	if cfg.UnlimitedStillWait <= 0 {
		cfg.UnlimitedStillWait = def.UnlimitedStillWait
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = def.NewDecoder
	}

	log := logging.For("player")
	idle := make(chan struct{})
	close(idle)

	return &Player{
		sink:     sink,
		assets:   assets,
		cfg:      cfg,
		log:      log,
		events:   newEventBus(log),
		wake:     make(chan struct{}, 1),
		pending:  mo.None[command](),
		idleCh:   idle,
		loadedCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// SetNotifier installs the queued/displaying observer.
func (p *Player) SetNotifier(n Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifier = n
}

// Subscribe returns a channel of events. The cancel func unsubscribes and
// closes the channel; the channel is also closed when the player stops.
func (p *Player) Subscribe() (<-chan Event, func()) {
	return p.events.subscribe(p.cfg.EventBuffer)
}

// Start launches the render worker. With boot set, the boot asset plays
// until the first real content arrives.
func (p *Player) Start(ctx context.Context, boot bool) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("player already started")
	}
	p.running = true
	if boot && p.assets != nil {
		if buf, ok := p.assets.Asset("boot"); ok {
			p.pending = mo.Some(command{buf: buf})
		}
	}
	p.mu.Unlock()

	go p.run(ctx)
	p.log.Info("🎬 Render worker started")
	return nil
}

// Done is closed once the worker has exited.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Submit queues buf for playback and takes ownership of it. A buffer still
// waiting in the mailbox is released and replaced.
func (p *Player) Submit(buf *content.Buffer, dwellSecs int) (int, error) {
	return p.enqueue(buf, time.Duration(dwellSecs)*time.Second, false)
}

// PlayAsset queues a built-in asset. Assets loop until other content is
// queued. With immediate set the current playback ends right away.
func (p *Player) PlayAsset(name string, immediate bool) error {
	if p.assets == nil {
		return fmt.Errorf("no asset source for %q", name)
	}
	buf, ok := p.assets.Asset(name)
	if !ok {
		return fmt.Errorf("unknown asset %q", name)
	}
	_, err := p.enqueue(buf, 0, immediate)
	return err
}

func (p *Player) enqueue(buf *content.Buffer, dwell time.Duration, preempt bool) (int, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return 0, ErrNotRunning
	}
	if old, ok := p.pending.Get(); ok {
		p.log.Debugf("🗑️  Dropping unconsumed buffer (counter=%d)", old.counter)
		old.buf.Release()
	}
	p.submitted++
	counter := p.submitted
	p.pending = mo.Some(command{buf: buf, dwell: dwell, counter: counter})
	if preempt {
		p.preemptReq = true
	}
	n := p.notifier
	p.mu.Unlock()

	p.signal()
	if n != nil && !buf.IsStatic() {
		n.Queued(counter)
	}
	return counter, nil
}

// Interrupt drops any queued buffer and stops the current playback at the
// next frame boundary. It is a no-op while idle.
func (p *Player) Interrupt() {
	p.mu.Lock()
	if old, ok := p.pending.Get(); ok {
		old.buf.Release()
		p.pending = mo.None[command]()
	}
	if p.state == StatePlaying {
		p.stopReq = true
	}
	p.mu.Unlock()
	p.signal()
}

// Preempt ends the current dwell early and starts the queued buffer, or
// stops if nothing is queued.
func (p *Player) Preempt() {
	p.mu.Lock()
	if p.state == StatePlaying {
		p.preemptReq = true
	}
	p.mu.Unlock()
	p.signal()
}

// Pause stops rendering and leaves queued content in the mailbox until Resume.
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
	p.signal()
}

func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.signal()
}

// WaitIdle blocks until the worker is idle. It must not be called from the
// worker itself.
func (p *Player) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idleCh
	p.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitLoaded blocks until the buffer with the given counter (or a newer one)
// has started rendering.
func (p *Player) WaitLoaded(ctx context.Context, counter int) error {
	for {
		p.mu.Lock()
		loaded, ch := p.loaded, p.loadedCh
		p.mu.Unlock()

		if loaded >= counter {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Player) IsAnimating() bool {
	return p.State() == StatePlaying
}

func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LoadedCounter is the counter of the buffer the worker is rendering.
func (p *Player) LoadedCounter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// SubmittedCounter is the counter handed out by the latest submission.
func (p *Player) SubmittedCounter() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitted
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}
