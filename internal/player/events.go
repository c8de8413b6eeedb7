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
	"sync"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/sirupsen/logrus"
)

// EventType identifies a player event.
type EventType int

const (
	EventPlaying EventType = iota + 1
	EventStopped
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventPlaying:
		return "PLAYING"
	case EventStopped:
		return "STOPPED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode classifies ERROR events.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorDecode
)

// Event is emitted by the render worker. Per playback cycle the order is
// always PLAYING, then exactly one of STOPPED or ERROR.
type Event struct {
	Type    EventType
	Counter int

	// PLAYING
	Source     content.Kind
	Asset      string
	FrameCount int
	Duration   time.Duration // one animation loop
	Dwell      time.Duration // zero means unlimited

	// STOPPED: a queued buffer starts right after this event.
	Pending bool

	// ERROR
	Code ErrorCode
}

type eventBus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
	log    *logrus.Entry
}

func newEventBus(log *logrus.Entry) *eventBus {
	return &eventBus{subs: make(map[int]chan Event), log: log}
}

func (b *eventBus) subscribe(size int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// emit never blocks the render worker. A subscriber that falls behind loses
// events.
func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Warnf("⚠️  Event channel %d full, dropping %s event (counter=%d)", id, ev.Type, ev.Counter)
		}
	}
}

func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
