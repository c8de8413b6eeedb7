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
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"time"

	_ "golang.org/x/image/webp"
)

// ErrNoMoreFrames is returned by Next once the last frame has been produced.
var ErrNoMoreFrames = errors.New("no more frames")

// Info describes a decoded buffer.
type Info struct {
	Width      int
	Height     int
	FrameCount int
	// LoopDuration is the sum of frame delays; zero for stills.
	LoopDuration time.Duration
	Format       string
}

// Decoder produces frames one at a time. The image returned by Next is only
// valid until the following call.
type Decoder interface {
	Info() Info
	HasMore() bool
	// Next returns the next frame and its presentation timestamp relative to
	// the start of the loop.
	Next() (image.Image, time.Duration, error)
	Reset()
}

// DecoderFactory builds a decoder for a content buffer.
type DecoderFactory func(data []byte) (Decoder, error)

// NewDecoder picks a decoder from the leading bytes of data. GIF and
// animated WebP get frame-by-frame decoders; PNG, JPEG and still WebP decode
// as stills.
func NewDecoder(data []byte) (Decoder, error) {
	if len(data) == 0 {
		return nil, errors.New("empty buffer")
	}
	if bytes.HasPrefix(data, []byte("GIF8")) {
		return newGIFDecoder(data)
	}
	if isAnimatedWebP(data) {
		return newWebPDecoder(data)
	}
	return newStillDecoder(data)
}

const minFrameDelay = 100 * time.Millisecond

type gifDecoder struct {
	g       *gif.GIF
	canvas  *image.RGBA
	restore *image.RGBA
	index   int
	ts      time.Duration
	info    Info
}

func newGIFDecoder(data []byte) (*gifDecoder, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif has no frames")
	}

	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}

	d := &gifDecoder{
		g:      g,
		canvas: image.NewRGBA(image.Rect(0, 0, w, h)),
		info:   Info{Width: w, Height: h, FrameCount: len(g.Image), Format: "gif"},
	}
	for i := range g.Image {
		d.info.LoopDuration += frameDelay(g, i)
	}
	return d, nil
}

func frameDelay(g *gif.GIF, i int) time.Duration {
	if i >= len(g.Delay) {
		return minFrameDelay
	}
	delay := time.Duration(g.Delay[i]) * 10 * time.Millisecond
	if delay < 20*time.Millisecond {
		return minFrameDelay
	}
	return delay
}

func (d *gifDecoder) Info() Info    { return d.info }
func (d *gifDecoder) HasMore() bool { return d.index < len(d.g.Image) }

func (d *gifDecoder) Next() (image.Image, time.Duration, error) {
	if !d.HasMore() {
		return nil, 0, ErrNoMoreFrames
	}

	if d.index > 0 {
		d.dispose(d.index - 1)
	}

	frame := d.g.Image[d.index]
	if d.disposal(d.index) == gif.DisposalPrevious {
		d.restore = cloneRGBA(d.canvas)
	}
	draw.Draw(d.canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

	d.ts += frameDelay(d.g, d.index)
	d.index++
	return d.canvas, d.ts, nil
}

func (d *gifDecoder) Reset() {
	d.index = 0
	d.ts = 0
	d.restore = nil
	draw.Draw(d.canvas, d.canvas.Bounds(), image.Transparent, image.Point{}, draw.Src)
}

func (d *gifDecoder) disposal(i int) byte {
	if i < len(d.g.Disposal) {
		return d.g.Disposal[i]
	}
	return gif.DisposalNone
}

func (d *gifDecoder) dispose(i int) {
	switch d.disposal(i) {
	case gif.DisposalBackground:
		draw.Draw(d.canvas, d.g.Image[i].Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		if d.restore != nil {
			draw.Draw(d.canvas, d.canvas.Bounds(), d.restore, image.Point{}, draw.Src)
		}
	}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}

type stillDecoder struct {
	img  image.Image
	done bool
	info Info
}

func newStillDecoder(data []byte) (*stillDecoder, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	return &stillDecoder{
		img:  img,
		info: Info{Width: b.Dx(), Height: b.Dy(), FrameCount: 1, Format: format},
	}, nil
}

func (d *stillDecoder) Info() Info    { return d.info }
func (d *stillDecoder) HasMore() bool { return !d.done }
func (d *stillDecoder) Reset()        { d.done = false }

func (d *stillDecoder) Next() (image.Image, time.Duration, error) {
	if d.done {
		return nil, 0, ErrNoMoreFrames
	}
	d.done = true
	return d.img, 0, nil
}
