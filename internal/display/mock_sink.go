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

package display

import (
	"image"
	"image/color"
	"sync"
)

// MockSink implements Sink for tests. It records calls and keeps a real
// canvas so pixel checks work.
type MockSink struct {
	*Panel

	mu         sync.Mutex
	draws      int
	clears     int
	indicators int
	texts      []string
	fills      []image.Rectangle
}

// NewMockSink creates a 64x32 mock sink.
func NewMockSink() *MockSink {
	return &MockSink{Panel: NewNull(64, 32)}
}

func (m *MockSink) Draw(img image.Image) {
	m.mu.Lock()
	m.draws++
	m.mu.Unlock()
	m.Panel.Draw(img)
}

func (m *MockSink) Clear() {
	m.mu.Lock()
	m.clears++
	m.mu.Unlock()
	m.Panel.Clear()
}

func (m *MockSink) DrawText(text string, x, y int, c color.Color) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	m.Panel.DrawText(text, x, y, c)
}

func (m *MockSink) FillRect(r image.Rectangle, c color.Color) {
	m.mu.Lock()
	m.fills = append(m.fills, r)
	m.mu.Unlock()
	m.Panel.FillRect(r, c)
}

func (m *MockSink) DrawErrorIndicator() {
	m.mu.Lock()
	m.indicators++
	m.mu.Unlock()
	m.Panel.DrawErrorIndicator()
}

// DrawCount returns how many frames were drawn.
func (m *MockSink) DrawCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draws
}

func (m *MockSink) ClearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

func (m *MockSink) IndicatorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indicators
}

// Texts returns every string passed to DrawText.
func (m *MockSink) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

func (m *MockSink) FillCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fills)
}
