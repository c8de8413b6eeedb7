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

// Package timers provides a one-shot timer whose stale callbacks are
// suppressed once it has been re-armed or disarmed.
package timers

import (
	"sync"
	"time"
)

// OneShot runs a callback once after a delay. Arming replaces any previous
// schedule; a callback that was already in flight when Disarm or Arm ran is
// dropped.
type OneShot struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	armed bool
}

// Arm schedules fn to run after d.
func (o *OneShot) Arm(d time.Duration, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.timer != nil {
		o.timer.Stop()
	}
	o.gen++
	gen := o.gen
	o.armed = true
	o.timer = time.AfterFunc(d, func() {
		o.mu.Lock()
		if gen != o.gen {
			o.mu.Unlock()
			return
		}
		o.armed = false
		o.mu.Unlock()
		fn()
	})
}

// Disarm cancels the pending callback, if any.
func (o *OneShot) Disarm() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.gen++
	o.armed = false
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
}

// Armed reports whether a callback is scheduled and has not fired yet.
func (o *OneShot) Armed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.armed
}
