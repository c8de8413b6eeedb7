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
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// NewTerminal returns a panel that previews itself on out using truecolor
// half-block characters, two panel rows per text row.
func NewTerminal(width, height int, out io.Writer) *Panel {
	var buf bytes.Buffer
	return NewPanel(width, height, func(canvas *image.RGBA, brightness int) {
		buf.Reset()
		buf.WriteString("\x1b[H")

		b := canvas.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y += 2 {
			for x := b.Min.X; x < b.Max.X; x++ {
				tr, tg, tb := dim(canvas.At(x, y), brightness)
				br, bg, bb := uint8(0), uint8(0), uint8(0)
				if y+1 < b.Max.Y {
					br, bg, bb = dim(canvas.At(x, y+1), brightness)
				}
				fmt.Fprintf(&buf, "\x1b[38;2;%d;%d;%dm\x1b[48;2;%d;%d;%dm▀", tr, tg, tb, br, bg, bb)
			}
			buf.WriteString("\x1b[0m\n")
		}
		_, _ = out.Write(buf.Bytes())
	})
}

// dim scales the value channel of c by brightness percent.
func dim(c color.Color, brightness int) (uint8, uint8, uint8) {
	cf, ok := colorful.MakeColor(c)
	if !ok {
		return 0, 0, 0
	}
	h, s, v := cf.Hsv()
	return colorful.Hsv(h, s, v*float64(brightness)/100).Clamped().RGB255()
}
