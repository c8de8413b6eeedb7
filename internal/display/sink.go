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

// Package display is the boundary to the LED panel. The render loop, the
// scheduler and the update task only talk to a Sink; how pixels reach real
// hardware is up to the Sink implementation.
package display

import (
	"image"
	"image/color"
)

// Sink consumes decoded frames and simple overlays. Implementations must be
// safe for concurrent use and must not retain the image passed to Draw.
type Sink interface {
	// Draw fits img to the panel and presents it.
	Draw(img image.Image)
	Clear()
	// SetBrightness takes a percentage; values outside 0..100 are clamped.
	SetBrightness(pct int)
	Brightness() int
	DrawText(text string, x, y int, c color.Color)
	FillRect(r image.Rectangle, c color.Color)
	// DrawErrorIndicator lights a single red pixel in the top-left corner.
	DrawErrorIndicator()
	Size() (width, height int)
}

var (
	ErrorRed = color.RGBA{R: 0xff, A: 0xff}
	White    = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	Black    = color.RGBA{A: 0xff}
)
