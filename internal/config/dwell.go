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

package config

import (
	"sync/atomic"

	"github.com/samber/lo"
)

const (
	MinDwellSecs = 1
	MaxDwellSecs = 3600
)

// ClampDwell bounds a dwell time in seconds to [1, 3600].
func ClampDwell(secs int) int {
	return lo.Clamp(secs, MinDwellSecs, MaxDwellSecs)
}

// Dwell is the default dwell applied to content that does not carry its
// own. It can be changed at runtime by control messages.
type Dwell struct {
	secs atomic.Int32
}

// NewDwell returns a setting initialised to the clamped value of secs.
func NewDwell(secs int) *Dwell {
	d := &Dwell{}
	d.Set(secs)
	return d
}

// Set stores the clamped value and returns it.
func (d *Dwell) Set(secs int) int {
	v := ClampDwell(secs)
	d.secs.Store(int32(v)) //nolint:gosec // bounded by ClampDwell
	return v
}

func (d *Dwell) Get() int {
	return int(d.secs.Load())
}
