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

package transport

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/loqalabs/loqa-display-go/internal/config"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
)

// Preempter ends the current playback early. A queued image starts at once;
// with nothing queued playback stops.
type Preempter interface {
	Preempt()
}

// BrightnessSetter is the part of the display a control message touches.
type BrightnessSetter interface {
	SetBrightness(pct int)
}

// UpdateTrigger starts a firmware update without waiting for it.
type UpdateTrigger interface {
	Trigger(url string)
}

// Restarter restarts the device.
type Restarter interface {
	Restart(reason string)
}

// ControlResult is what a control message changed.
type ControlResult struct {
	Immediate  bool
	DwellSecs  mo.Option[int]
	Brightness mo.Option[int]
	UpdateURL  string
	Reboot     bool
}

// ControlHandler applies control documents received over a push channel.
type ControlHandler struct {
	player    Preempter
	display   BrightnessSetter
	updater   UpdateTrigger
	restarter Restarter
	dwell     *config.Dwell
	log       *logrus.Entry
}

// NewControlHandler wires a handler. updater and restarter may be nil, in
// which case those keys are logged and ignored.
func NewControlHandler(player Preempter, display BrightnessSetter, updater UpdateTrigger, restarter Restarter, dwell *config.Dwell) *ControlHandler {
	return &ControlHandler{
		player:    player,
		display:   display,
		updater:   updater,
		restarter: restarter,
		dwell:     dwell,
		log:       logging.For("control"),
	}
}

// Handle parses a flat JSON object. Every known key is applied on its own;
// unknown keys and keys with the wrong type are skipped.
func (h *ControlHandler) Handle(data []byte) (ControlResult, error) {
	var res ControlResult

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return res, fmt.Errorf("invalid control message: %w", err)
	}

	if v, ok := number(doc, "dwell_secs"); ok {
		secs := h.dwell.Set(toInt(v))
		res.DwellSecs = mo.Some(secs)
		h.log.Infof("⏱️  Default dwell set to %ds", secs)
	}

	if v, ok := number(doc, "brightness"); ok {
		pct := lo.Clamp(toInt(v), 0, 100)
		h.display.SetBrightness(pct)
		res.Brightness = mo.Some(pct)
		h.log.Infof("💡 Brightness set to %d%%", pct)
	}

	if url, ok := str(doc, "ota_url"); ok && strings.TrimSpace(url) != "" {
		res.UpdateURL = strings.TrimSpace(url)
		if h.updater != nil {
			h.log.Infof("📦 Update requested: %s", res.UpdateURL)
			h.updater.Trigger(res.UpdateURL)
		} else {
			h.log.Warn("⚠️  Update requested but no updater configured")
		}
	}

	// An image pushed just before the flag is kept and shown.
	if flag(doc, "immediate") {
		res.Immediate = true
		h.player.Preempt()
	}

	if flag(doc, "reboot") {
		res.Reboot = true
		if h.restarter != nil {
			h.restarter.Restart("reboot requested by server")
		}
	}

	return res, nil
}

func toInt(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(max(min(v, math.MaxInt32), math.MinInt32))
}

func number(doc map[string]json.RawMessage, key string) (float64, bool) {
	raw, ok := doc[key]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

func str(doc map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := doc[key]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

func flag(doc map[string]json.RawMessage, key string) bool {
	raw, ok := doc[key]
	if !ok {
		return false
	}
	var v bool
	return json.Unmarshal(raw, &v) == nil && v
}
