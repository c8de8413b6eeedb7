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

// Package content holds the image buffers that flow from producers (fetcher,
// reassembler, built-in assets) into the player.
package content

import (
	"errors"
	"sync/atomic"
)

// Kind tells whether a buffer is owned (released after use) or static.
type Kind int

const (
	KindOwned Kind = iota
	KindStatic
)

func (k Kind) String() string {
	if k == KindStatic {
		return "static"
	}
	return "owned"
}

// ErrTooLarge is returned when a buffer would grow past its cap.
var ErrTooLarge = errors.New("content exceeds maximum size")

// Buffer is an image held by exactly one party at a time. Whoever holds an
// owned buffer last calls Release; static buffers ignore Release.
type Buffer struct {
	data      []byte
	kind      Kind
	name      string
	onRelease func()
	released  atomic.Bool
}

// Option configures a Buffer at creation.
type Option func(*Buffer)

// WithReleaseHook registers fn to run exactly once when the buffer is released.
func WithReleaseHook(fn func()) Option {
	return func(b *Buffer) { b.onRelease = fn }
}

// WithName tags a buffer, mostly for logging.
func WithName(name string) Option {
	return func(b *Buffer) { b.name = name }
}

// New wraps data as an owned buffer. The caller hands data over and must not
// touch it afterwards.
func New(data []byte, opts ...Option) *Buffer {
	b := &Buffer{data: data, kind: KindOwned}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Static wraps immutable data shared for the whole process lifetime.
func Static(name string, data []byte) *Buffer {
	return &Buffer{data: data, kind: KindStatic, name: name}
}

func (b *Buffer) Bytes() []byte  { return b.data }
func (b *Buffer) Len() int       { return len(b.data) }
func (b *Buffer) Kind() Kind     { return b.kind }
func (b *Buffer) Name() string   { return b.name }
func (b *Buffer) IsStatic() bool { return b != nil && b.kind == KindStatic }

// Release frees an owned buffer. It returns false when nothing was released:
// the buffer is static, nil, or was already released.
func (b *Buffer) Release() bool {
	if b == nil || b.kind == KindStatic {
		return false
	}
	if b.released.Swap(true) {
		return false
	}
	b.data = nil
	if b.onRelease != nil {
		b.onRelease()
	}
	return true
}

// Released reports whether Release has run on an owned buffer.
func (b *Buffer) Released() bool {
	return b.released.Load()
}
