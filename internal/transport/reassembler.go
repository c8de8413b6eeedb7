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

package transport

import (
	"sync"

	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/sirupsen/logrus"
)

// Opcode says where a fragment sits in its message.
type Opcode int

const (
	OpStart Opcode = iota
	OpContinuation
)

// Fragment is one piece of an inbound binary message.
type Fragment struct {
	Op    Opcode
	Final bool
	Data  []byte
}

// ContentSink receives finished images.
type ContentSink interface {
	Submit(buf *content.Buffer, dwellSecs int) (int, error)
	PlayAsset(name string, immediate bool) error
	Preempt()
}

// ReassemblyStats counts what happened to inbound messages.
type ReassemblyStats struct {
	Completed int
	Discarded int
	Orphans   int
	Oversize  int
}

// Reassembler joins fragments into a single buffer. A new start fragment
// always wins over an unfinished message.
type Reassembler struct {
	mu        sync.Mutex
	buf       []byte
	active    bool
	dropping  bool
	max       int
	seenFirst bool
	stats     ReassemblyStats

	dwell *config.Dwell
	sink  ContentSink
	log   *logrus.Entry
}

// NewReassembler creates a reassembler capped at max bytes per message.
func NewReassembler(max int, dwell *config.Dwell, sink ContentSink) *Reassembler {
	return &Reassembler{
		max:   max,
		dwell: dwell,
		sink:  sink,
		log:   logging.For("reassembler"),
	}
}

// Feed consumes one fragment.
func (r *Reassembler) Feed(f Fragment) {
	r.mu.Lock()

	if f.Op == OpStart {
		if r.active && len(r.buf) > 0 {
			r.log.Warnf("⚠️  Discarding incomplete message (%d bytes) for a new one", len(r.buf))
			r.stats.Discarded++
		}
		r.buf = nil
		r.active = true
		r.dropping = false
	} else {
		if r.dropping {
			r.mu.Unlock()
			return
		}
		if !r.active {
			r.stats.Orphans++
			r.mu.Unlock()
			r.log.Debug("🧩 Dropping orphan continuation fragment")
			return
		}
	}

	grown, err := content.Grow(r.buf, len(f.Data), r.max)
	if err != nil {
		size := len(r.buf) + len(f.Data)
		r.buf = nil
		r.active = false
		r.dropping = true
		r.stats.Oversize++
		r.mu.Unlock()

		r.log.Errorf("❌ Message exceeds %d bytes (at least %d), discarding", r.max, size)
		if err := r.sink.PlayAsset("oversize", true); err != nil {
			r.log.Warnf("⚠️  Could not show oversize asset: %v", err)
		}
		return
	}
	r.buf = append(grown, f.Data...)

	if !f.Final {
		r.mu.Unlock()
		return
	}

	data := r.buf
	r.buf = nil
	r.active = false
	r.stats.Completed++
	first := !r.seenFirst
	r.seenFirst = true
	r.mu.Unlock()

	r.deliver(data, first)
}

func (r *Reassembler) deliver(data []byte, first bool) {
	if len(data) == 0 {
		r.log.Warn("⚠️  Ignoring empty image message")
		return
	}
	buf := content.New(data)
	counter, err := r.sink.Submit(buf, r.dwell.Get())
	if err != nil {
		r.log.Errorf("❌ Failed to queue image: %v", err)
		buf.Release()
		return
	}
	r.log.Infof("🖼️  Queued pushed image: %d bytes, counter=%d", len(data), counter)

	// The first image replaces the boot animation right away.
	if first {
		r.sink.Preempt()
	}
}

// Reset drops any partial message, e.g. when the session ends.
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = nil
	r.active = false
	r.dropping = false
}

// Stats returns a snapshot of the counters.
func (r *Reassembler) Stats() ReassemblyStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
