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

package system

import (
	"os"
	"sync"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/sirupsen/logrus"
)

// RestartExitCode asks the process supervisor to start us again.
const RestartExitCode = 3

// ProcessRestarter "restarts the device" by exiting; systemd or the
// container runtime brings the process back.
type ProcessRestarter struct {
	exit   func(code int)
	delay  time.Duration
	before []func()
	log    *logrus.Entry
	once   sync.Once
}

// NewProcessRestarter exits the process after delay.
func NewProcessRestarter(delay time.Duration) *ProcessRestarter {
	return NewProcessRestarterWithExit(delay, os.Exit)
}

// NewProcessRestarterWithExit uses exit instead of os.Exit (for testing)
func NewProcessRestarterWithExit(delay time.Duration, exit func(code int)) *ProcessRestarter {
	return &ProcessRestarter{
		exit:  exit,
		delay: delay,
		log:   logging.For("system"),
	}
}

// BeforeRestart registers a hook that runs before the process exits.
func (r *ProcessRestarter) BeforeRestart(fn func()) {
	r.before = append(r.before, fn)
}

// Restart runs the hooks and exits. Only the first call has an effect.
func (r *ProcessRestarter) Restart(reason string) {
	r.once.Do(func() {
		r.log.Warnf("🔁 Restarting: %s", reason)
		for _, fn := range r.before {
			fn()
		}
		if r.delay > 0 {
			time.Sleep(r.delay)
		}
		r.exit(RestartExitCode)
	})
}
