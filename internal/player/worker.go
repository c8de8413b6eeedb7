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

package player

import (
	"context"
	"time"

	"github.com/samber/mo"
)

func (p *Player) run(ctx context.Context) {
	defer p.shutdown()

	for ctx.Err() == nil {
		if p.State() == StateIdle {
			p.awaitCommand(ctx)
			continue
		}

		if p.isPaused() {
			p.log.Info("⏸️  Playback paused")
			p.stop()
			continue
		}

		if p.dwellExpired() {
			p.advance(ctx)
			continue
		}

		deadline, err := p.renderFrame()
		if err != nil {
			p.decodeWithRetry(ctx, err)
			continue
		}
		p.waitUntil(ctx, deadline)
	}
}

// awaitCommand blocks on the wake signal until a buffer can be started.
func (p *Player) awaitCommand(ctx context.Context) {
	for {
		if cmd, ok := p.takePending(); ok {
			p.begin(ctx, cmd)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
		}
	}
}

// takePending moves the mailbox content into the active slot and marks the
// worker PLAYING. The previous active buffer is released under the same lock
// so no more than two buffers are ever alive, and an Interrupt that follows
// always sees the new playback.
func (p *Player) takePending() (command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopReq = false
	p.preemptReq = false
	if p.paused {
		return command{}, false
	}

	cmd, ok := p.pending.Get()
	if !ok {
		return command{}, false
	}
	p.pending = mo.None[command]()

	p.dec = nil
	p.active.buf.Release()
	p.active = cmd
	p.decodeErrors = 0
	p.setStateLocked(StatePlaying)

	p.loaded = cmd.counter
	close(p.loadedCh)
	p.loadedCh = make(chan struct{})
	return cmd, true
}

func (p *Player) begin(ctx context.Context, cmd command) {
	if err := p.openDecoder(); err != nil {
		if !p.decodeWithRetry(ctx, err) {
			return
		}
	}

	now := time.Now()
	p.playStart = now
	p.deadline = now
	p.lastTS = 0

	p.log.Infof("▶️  Playing counter=%d kind=%s frames=%d dwell=%s",
		cmd.counter, cmd.buf.Kind(), p.info.FrameCount, cmd.dwell)

	p.mu.Lock()
	n := p.notifier
	p.mu.Unlock()
	if n != nil && !cmd.buf.IsStatic() {
		n.Displaying(cmd.counter)
	}

	p.events.emit(Event{
		Type:       EventPlaying,
		Counter:    cmd.counter,
		Source:     cmd.buf.Kind(),
		Asset:      cmd.buf.Name(),
		FrameCount: p.info.FrameCount,
		Duration:   p.info.LoopDuration,
		Dwell:      cmd.dwell,
	})
}

func (p *Player) openDecoder() error {
	dec, err := p.cfg.NewDecoder(p.active.buf.Bytes())
	if err != nil {
		p.dec = nil
		return err
	}
	p.dec = dec
	p.info = dec.Info()
	p.lastTS = 0
	return nil
}

// decodeWithRetry recreates the decoder after a failure. The budget is per
// buffer and only a decoded frame refills it. Once it is spent the buffer is
// dropped, the indicator drawn and ERROR emitted. It reports whether a
// working decoder is in place.
func (p *Player) decodeWithRetry(ctx context.Context, err error) bool {
	for {
		p.decodeErrors++
		p.log.Warnf("⚠️  Decode failed for counter=%d (attempt %d/%d): %v",
			p.active.counter, p.decodeErrors, p.cfg.DecodeAttempts, err)

		if p.decodeErrors >= p.cfg.DecodeAttempts {
			p.fail()
			return false
		}
		if !sleepCtx(ctx, p.cfg.DecodeBackoff) {
			return false
		}
		if err = p.openDecoder(); err == nil {
			return true
		}
	}
}

func (p *Player) fail() {
	counter := p.active.counter
	p.log.Errorf("❌ Giving up on counter=%d", counter)

	p.sink.DrawErrorIndicator()
	p.releaseActive()
	p.setState(StateIdle)
	p.events.emit(Event{Type: EventError, Counter: counter, Code: ErrorDecode})
}

// stop ends playback without starting anything else.
func (p *Player) stop() {
	counter := p.active.counter
	p.releaseActive()
	p.setState(StateIdle)
	p.events.emit(Event{Type: EventStopped, Counter: counter})
}

// advance ends the current playback and starts the queued buffer if there
// is one.
func (p *Player) advance(ctx context.Context) {
	counter := p.active.counter
	cmd, ok := p.takePending()
	if !ok {
		p.stop()
		return
	}
	p.events.emit(Event{Type: EventStopped, Counter: counter, Pending: true})
	p.begin(ctx, cmd)
}

func (p *Player) releaseActive() {
	p.dec = nil
	p.mu.Lock()
	p.active.buf.Release()
	p.active = command{counter: p.active.counter}
	p.mu.Unlock()
}

func (p *Player) dwellExpired() bool {
	if p.active.buf == nil || p.active.buf.IsStatic() || p.active.dwell <= 0 {
		return false
	}
	return time.Since(p.playStart) >= p.active.dwell
}

// renderFrame draws one frame and returns the deadline for the next one.
func (p *Player) renderFrame() (time.Time, error) {
	if p.dec == nil {
		if err := p.openDecoder(); err != nil {
			return time.Time{}, err
		}
	}
	if !p.dec.HasMore() {
		p.dec.Reset()
		p.lastTS = 0
	}

	img, ts, err := p.dec.Next()
	if err != nil {
		return time.Time{}, err
	}
	p.decodeErrors = 0
	p.sink.Draw(img)

	if p.info.FrameCount <= 1 {
		p.deadline = time.Now().Add(p.stillDelay())
		return p.deadline, nil
	}

	delay := ts - p.lastTS
	p.lastTS = ts
	if delay <= 0 {
		delay = time.Millisecond
	}

	// Next deadline builds on the previous one so render time never
	// accumulates as drift. When we are already late, resync to now.
	target := p.deadline.Add(delay)
	if now := time.Now(); !target.After(now) {
		target = now
	}
	p.deadline = target
	return target, nil
}

// stillDelay is how long a single-frame image stays up before the loop
// looks again: the rest of the dwell window, capped.
func (p *Player) stillDelay() time.Duration {
	if p.active.buf.IsStatic() || p.active.dwell <= 0 {
		return p.cfg.UnlimitedStillWait
	}
	remaining := p.active.dwell - time.Since(p.playStart)
	return min(max(remaining, 0), p.cfg.MaxStillWait)
}

// waitUntil sleeps until deadline, handling wake-ups on the way. Wakes that
// do not concern the current playback resume the same deadline.
func (p *Player) waitUntil(ctx context.Context, deadline time.Time) {
	for {
		d := time.Until(deadline)
		if d <= 0 {
			return
		}

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
			return
		case <-p.wake:
			t.Stop()
			if p.handleWake(ctx) {
				return
			}
		}
	}
}

func (p *Player) handleWake(ctx context.Context) bool {
	p.mu.Lock()
	stopReq, preempt, paused := p.stopReq, p.preemptReq, p.paused
	hasPending := p.pending.IsPresent()
	p.stopReq = false
	p.preemptReq = false
	p.mu.Unlock()

	switch {
	case paused:
		return true
	case stopReq:
		p.log.Info("⏹️  Playback interrupted")
		p.stop()
		return true
	case preempt, hasPending && p.active.buf.IsStatic():
		p.advance(ctx)
		return true
	}
	return false
}

func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *Player) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setStateLocked(s)
}

// setStateLocked is called with p.mu held.
func (p *Player) setStateLocked(s State) {
	if p.state == s {
		return
	}
	p.state = s
	if s == StateIdle {
		close(p.idleCh)
	} else {
		p.idleCh = make(chan struct{})
	}
}

func (p *Player) shutdown() {
	p.dec = nil
	p.mu.Lock()
	if cmd, ok := p.pending.Get(); ok {
		cmd.buf.Release()
		p.pending = mo.None[command]()
	}
	p.active.buf.Release()
	p.active = command{}
	p.running = false
	if p.state != StateIdle {
		p.state = StateIdle
		close(p.idleCh)
	}
	p.mu.Unlock()

	p.events.close()
	close(p.done)
	p.log.Info("🛑 Render worker stopped")
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
