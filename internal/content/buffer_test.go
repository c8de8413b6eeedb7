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

package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseRunsHookOnce(t *testing.T) {
	calls := 0
	b := New([]byte{1, 2, 3}, WithReleaseHook(func() { calls++ }))

	assert.True(t, b.Release())
	assert.False(t, b.Release())
	assert.Equal(t, 1, calls)
	assert.True(t, b.Released())
	assert.Nil(t, b.Bytes())
}

func TestStaticIgnoresRelease(t *testing.T) {
	b := Static("boot", []byte{9})

	assert.False(t, b.Release())
	assert.Equal(t, []byte{9}, b.Bytes())
	assert.True(t, b.IsStatic())
	assert.Equal(t, "static", b.Kind().String())
}

func TestNilRelease(t *testing.T) {
	var b *Buffer
	assert.False(t, b.Release())
}

func TestGrow(t *testing.T) {
	tests := []struct {
		name    string
		len     int
		cap     int
		n       int
		max     int
		wantCap int
		wantErr bool
	}{
		{"fits", 2, 8, 4, 100, 8, false},
		{"doubles", 8, 8, 1, 100, 16, false},
		{"capped", 60, 60, 10, 100, 100, false},
		{"large append", 4, 4, 50, 100, 54, false},
		{"exactly max", 90, 90, 10, 100, 100, false},
		{"over max", 95, 100, 6, 100, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.len, tt.cap)
			got, err := Grow(buf, tt.n, tt.max)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrTooLarge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.len, len(got))
			assert.Equal(t, tt.wantCap, cap(got))
		})
	}
}
