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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGIFDecoderTimestamps(t *testing.T) {
	dec, err := NewDecoder(makeGIF(t, 3, 5))
	require.NoError(t, err)

	info := dec.Info()
	assert.Equal(t, "gif", info.Format)
	assert.Equal(t, 3, info.FrameCount)
	assert.Equal(t, 8, info.Width)

	var stamps []time.Duration
	for dec.HasMore() {
		img, ts, err := dec.Next()
		require.NoError(t, err)
		require.NotNil(t, img)
		stamps = append(stamps, ts)
	}
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond}, stamps)

	_, _, err = dec.Next()
	assert.ErrorIs(t, err, ErrNoMoreFrames)

	dec.Reset()
	assert.True(t, dec.HasMore())
	_, ts, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, ts)
}

func TestGIFZeroDelayUsesDefault(t *testing.T) {
	dec, err := NewDecoder(makeGIF(t, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 2*minFrameDelay, dec.Info().LoopDuration)
}

func TestStillDecoder(t *testing.T) {
	dec, err := NewDecoder(makePNG(t))
	require.NoError(t, err)

	assert.Equal(t, "png", dec.Info().Format)
	assert.Equal(t, 1, dec.Info().FrameCount)

	_, _, err = dec.Next()
	require.NoError(t, err)
	assert.False(t, dec.HasMore())
	dec.Reset()
	assert.True(t, dec.HasMore())
}

func TestDecoderRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("hello")},
		{"truncated gif", []byte("GIF89a\x08\x00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDecoder(tt.data)
			assert.Error(t, err)
		})
	}
}
