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

package assets

import (
	"bytes"
	"image/gif"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryRendersAllAssets(t *testing.T) {
	lib, err := NewLibrary(64, 32)
	require.NoError(t, err)

	for _, name := range []string{Boot, Config, NotFound, Oversize, Disconnected} {
		t.Run(name, func(t *testing.T) {
			buf, ok := lib.Asset(name)
			require.True(t, ok)
			assert.True(t, buf.IsStatic())
			assert.Equal(t, name, buf.Name())

			g, err := gif.DecodeAll(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			assert.Equal(t, 64, g.Config.Width)
			assert.Equal(t, 32, g.Config.Height)
			assert.NotEmpty(t, g.Image)
		})
	}
	assert.Len(t, lib.Names(), 5)
}

func TestUnknownAsset(t *testing.T) {
	lib, err := NewLibrary(64, 32)
	require.NoError(t, err)

	_, ok := lib.Asset("nope")
	assert.False(t, ok)
}

func TestBootIsAnimated(t *testing.T) {
	lib, err := NewLibrary(64, 32)
	require.NoError(t, err)

	buf, _ := lib.Asset(Boot)
	g, err := gif.DecodeAll(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Len(t, g.Image, 2)
}
