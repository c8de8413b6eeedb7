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
	"image/draw"
	"sync"

	"github.com/samber/lo"
)

// PresentFunc pushes a finished canvas to the output. It runs with the panel
// lock held, so it must not call back into the Panel.
type PresentFunc func(canvas *image.RGBA, brightness int)

// Panel is a Sink backed by an in-memory canvas. Every mutation is followed by
// a call to present.
type Panel struct {
	mu         sync.Mutex
	canvas     *image.RGBA
	brightness int
	present    PresentFunc
}

// NewPanel creates a panel of the given size. A nil present makes it a null
// sink that only keeps the canvas.
func NewPanel(width, height int, present PresentFunc) *Panel {
	return &Panel{
		canvas:     image.NewRGBA(image.Rect(0, 0, width, height)),
		brightness: 100,
		present:    present,
	}
}

// NewNull returns a panel with no output.
func NewNull(width, height int) *Panel {
	return NewPanel(width, height, nil)
}

func (p *Panel) Draw(img image.Image) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.canvas.Bounds()
	fitted := Fit(img, b.Dx(), b.Dy())
	draw.Draw(p.canvas, b, image.NewUniform(Black), image.Point{}, draw.Src)

	fb := fitted.Bounds()
	offset := image.Pt((b.Dx()-fb.Dx())/2, (b.Dy()-fb.Dy())/2)
	draw.Draw(p.canvas, fb.Sub(fb.Min).Add(offset), fitted, fb.Min, draw.Over)
	p.flush()
}

func (p *Panel) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	draw.Draw(p.canvas, p.canvas.Bounds(), image.NewUniform(Black), image.Point{}, draw.Src)
	p.flush()
}

func (p *Panel) SetBrightness(pct int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.brightness = lo.Clamp(pct, 0, 100)
	p.flush()
}

func (p *Panel) Brightness() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.brightness
}

func (p *Panel) DrawText(text string, x, y int, c color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()
	DrawString(p.canvas, text, x, y, c)
	p.flush()
}

func (p *Panel) FillRect(r image.Rectangle, c color.Color) {
	p.mu.Lock()
	defer p.mu.Unlock()
	draw.Draw(p.canvas, r.Intersect(p.canvas.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
	p.flush()
}

func (p *Panel) DrawErrorIndicator() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canvas.Set(0, 0, ErrorRed)
	p.flush()
}

func (p *Panel) Size() (int, int) {
	b := p.canvas.Bounds()
	return b.Dx(), b.Dy()
}

// At returns the canvas colour at (x, y).
func (p *Panel) At(x, y int) color.Color {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canvas.At(x, y)
}

func (p *Panel) flush() {
	if p.present != nil {
		p.present(p.canvas, p.brightness)
	}
}
