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

// Package assets renders the built-in fallback images once at startup and
// serves them as static content buffers.
package assets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/gif"

	"github.com/loqalabs/loqa-display-go/internal/content"
	"github.com/loqalabs/loqa-display-go/internal/display"
)

const (
	Boot         = "boot"
	Config       = "config"
	NotFound     = "not_found"
	Oversize     = "oversize"
	Disconnected = "disconnected"
)

var palette = color.Palette{
	color.RGBA{A: 0xff},
	color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, A: 0xff},
	color.RGBA{R: 0x20, G: 0x60, B: 0xff, A: 0xff},
	color.RGBA{R: 0xff, G: 0xa0, A: 0xff},
}

type frameSpec struct {
	text  string
	fg    color.Color
	bar   color.Color
	delay int // hundredths of a second
}

var specs = map[string][]frameSpec{
	Boot: {
		{text: "LOQA", fg: palette[1], bar: palette[3], delay: 40},
		{text: "LOQA", fg: palette[3], bar: palette[1], delay: 40},
	},
	Config:       {{text: "SETUP", fg: palette[4], delay: 100}},
	NotFound:     {{text: "404", fg: palette[2], delay: 100}},
	Oversize:     {{text: "TOO BIG", fg: palette[4], delay: 100}},
	Disconnected: {{text: "NO LINK", fg: palette[2], delay: 80}, {text: "", delay: 40}},
}

// Library holds the rendered assets.
type Library struct {
	assets map[string]*content.Buffer
}

// NewLibrary renders every built-in asset for a panel of the given size.
func NewLibrary(width, height int) (*Library, error) {
	l := &Library{assets: make(map[string]*content.Buffer, len(specs))}
	for name, frames := range specs {
		data, err := render(frames, width, height)
		if err != nil {
			return nil, fmt.Errorf("failed to render asset %s: %w", name, err)
		}
		l.assets[name] = content.Static(name, data)
	}
	return l, nil
}

// Asset looks up a built-in asset by name.
func (l *Library) Asset(name string) (*content.Buffer, bool) {
	b, ok := l.assets[name]
	return b, ok
}

// Names lists the available assets.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.assets))
	for name := range l.assets {
		names = append(names, name)
	}
	return names
}

func render(frames []frameSpec, width, height int) ([]byte, error) {
	anim := &gif.GIF{}
	for _, f := range frames {
		img := image.NewPaletted(image.Rect(0, 0, width, height), palette)
		if f.text != "" {
			x := (width - display.TextWidth(f.text)) / 2
			y := (height - 13) / 2
			display.DrawString(img, f.text, max(x, 0), y, f.fg)
		}
		if f.bar != nil {
			for x := 0; x < width; x++ {
				img.Set(x, height-2, f.bar)
			}
		}
		anim.Image = append(anim.Image, img)
		anim.Delay = append(anim.Delay, f.delay)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
