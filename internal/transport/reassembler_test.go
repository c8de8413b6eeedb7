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
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu        sync.Mutex
	images    [][]byte
	dwells    []int
	assets    []string
	preempts  int
	submitErr error
}

func (s *recordingSink) Submit(buf *content.Buffer, dwellSecs int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return 0, s.submitErr
	}
	s.images = append(s.images, append([]byte(nil), buf.Bytes()...))
	s.dwells = append(s.dwells, dwellSecs)
	return len(s.images), nil
}

func (s *recordingSink) PlayAsset(name string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets = append(s.assets, name)
	return nil
}

func (s *recordingSink) Preempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preempts++
}

func (s *recordingSink) snapshot() (images [][]byte, assets []string, preempts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.images...), append([]string(nil), s.assets...), s.preempts
}

func feedAll(r *Reassembler, data []byte, chunk int) {
	for _, f := range SplitImage(data, 1, chunk, 0) {
		frag, _ := f.Fragment()
		r.Feed(frag)
	}
}

func TestReassemblerJoinsFragments(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(7), sink)

	r.Feed(Fragment{Op: OpStart, Data: []byte("GIF")})
	r.Feed(Fragment{Op: OpContinuation, Data: []byte("89a")})
	r.Feed(Fragment{Op: OpContinuation, Final: true, Data: []byte("!")})

	images, _, preempts := sink.snapshot()
	require.Len(t, images, 1)
	assert.Equal(t, []byte("GIF89a!"), images[0])
	assert.Equal(t, []int{7}, sink.dwells)
	assert.Equal(t, 1, preempts, "first image preempts the boot animation")
	assert.Equal(t, 1, r.Stats().Completed)
}

func TestReassemblerOnlyFirstImagePreempts(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	feedAll(r, []byte("first"), 2)
	feedAll(r, []byte("second"), 2)

	images, _, preempts := sink.snapshot()
	assert.Len(t, images, 2)
	assert.Equal(t, 1, preempts)
}

func TestReassemblerSizeLimit(t *testing.T) {
	const max = 64

	t.Run("exactly max is accepted", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewReassembler(max, config.NewDwell(10), sink)

		feedAll(r, bytes.Repeat([]byte{1}, max), 16)

		images, assets, _ := sink.snapshot()
		require.Len(t, images, 1)
		assert.Len(t, images[0], max)
		assert.Empty(t, assets)
	})

	t.Run("one byte over shows oversize and drops the rest", func(t *testing.T) {
		sink := &recordingSink{}
		r := NewReassembler(max, config.NewDwell(10), sink)

		r.Feed(Fragment{Op: OpStart, Data: bytes.Repeat([]byte{1}, max)})
		r.Feed(Fragment{Op: OpContinuation, Data: []byte{2}})
		r.Feed(Fragment{Op: OpContinuation, Data: []byte{3}})
		r.Feed(Fragment{Op: OpContinuation, Final: true, Data: []byte{4}})

		images, assets, _ := sink.snapshot()
		assert.Empty(t, images)
		assert.Equal(t, []string{"oversize"}, assets)
		assert.Equal(t, 1, r.Stats().Oversize)
		assert.Zero(t, r.Stats().Orphans, "fragments of a dropped message are not orphans")

		feedAll(r, []byte("next"), 0)
		images, _, _ = sink.snapshot()
		require.Len(t, images, 1)
		assert.Equal(t, []byte("next"), images[0])
	})
}

func TestReassemblerOrphanContinuation(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	r.Feed(Fragment{Op: OpContinuation, Final: true, Data: []byte("stray")})

	images, _, _ := sink.snapshot()
	assert.Empty(t, images)
	assert.Equal(t, 1, r.Stats().Orphans)
}

func TestReassemblerStartDiscardsPartial(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	r.Feed(Fragment{Op: OpStart, Data: []byte("partial")})
	r.Feed(Fragment{Op: OpStart, Final: true, Data: []byte("whole")})

	images, _, _ := sink.snapshot()
	require.Len(t, images, 1)
	assert.Equal(t, []byte("whole"), images[0])
	assert.Equal(t, 1, r.Stats().Discarded)
}

func TestReassemblerIgnoresEmptyMessage(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	r.Feed(Fragment{Op: OpStart, Final: true})

	images, _, preempts := sink.snapshot()
	assert.Empty(t, images)
	assert.Zero(t, preempts)
}

func TestReassemblerResetDropsPartial(t *testing.T) {
	sink := &recordingSink{}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	r.Feed(Fragment{Op: OpStart, Data: []byte("half")})
	r.Reset()
	r.Feed(Fragment{Op: OpContinuation, Final: true, Data: []byte("rest")})

	images, _, _ := sink.snapshot()
	assert.Empty(t, images)
	assert.Equal(t, 1, r.Stats().Orphans)
}

func TestReassemblerSubmitError(t *testing.T) {
	sink := &recordingSink{submitErr: errors.New("player stopped")}
	r := NewReassembler(1024, config.NewDwell(10), sink)

	r.Feed(Fragment{Op: OpStart, Final: true, Data: []byte("img")})

	_, _, preempts := sink.snapshot()
	assert.Zero(t, preempts)
}
