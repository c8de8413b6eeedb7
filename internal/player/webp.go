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
	"time"

	"github.com/gen2brain/webp"
)

// webpAnimationFlag is the animation bit of the VP8X feature flags.
const webpAnimationFlag = 0x02

// isAnimatedWebP reports whether data is an extended WebP file with the
// animation flag set.
func isAnimatedWebP(data []byte) bool {
	return len(data) >= 21 &&
		bytes.Equal(data[0:4], []byte("RIFF")) &&
		bytes.Equal(data[8:12], []byte("WEBP")) &&
		bytes.Equal(data[12:16], []byte("VP8X")) &&
		data[20]&webpAnimationFlag != 0
}

// webpDecoder plays the composited frames of an animated WebP.
type webpDecoder struct {
	frames []image.Image
	delays []time.Duration
	index  int
	ts     time.Duration
	info   Info
}

func newWebPDecoder(data []byte) (*webpDecoder, error) {
	anim, err := webp.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode webp animation: %w", err)
	}
	frames := make([]image.Image, 0, len(anim.Image))
	for _, img := range anim.Image {
		frames = append(frames, img)
	}
	delays := make([]int, 0, len(anim.Delay))
	for _, ms := range anim.Delay {
		delays = append(delays, int(ms))
	}
	return newFrameSequence(frames, delays)
}

// newFrameSequence builds a decoder from whole frames and per-frame delays
// in milliseconds. Missing or zero delays fall back to minFrameDelay.
func newFrameSequence(frames []image.Image, delaysMS []int) (*webpDecoder, error) {
	if len(frames) == 0 {
		return nil, errors.New("webp has no frames")
	}

	b := frames[0].Bounds()
	d := &webpDecoder{
		frames: frames,
		delays: make([]time.Duration, len(frames)),
		info:   Info{Width: b.Dx(), Height: b.Dy(), FrameCount: len(frames), Format: "webp"},
	}
	for i := range frames {
		delay := minFrameDelay
		if i < len(delaysMS) && delaysMS[i] > 0 {
			delay = time.Duration(delaysMS[i]) * time.Millisecond
		}
		d.delays[i] = delay
		d.info.LoopDuration += delay
	}
	return d, nil
}

func (d *webpDecoder) Info() Info    { return d.info }
func (d *webpDecoder) HasMore() bool { return d.index < len(d.frames) }

func (d *webpDecoder) Next() (image.Image, time.Duration, error) {
	if !d.HasMore() {
		return nil, 0, ErrNoMoreFrames
	}
	frame := d.frames[d.index]
	d.ts += d.delays[d.index]
	d.index++
	return frame, d.ts, nil
}

func (d *webpDecoder) Reset() {
	d.index = 0
	d.ts = 0
}
