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
	"fmt"
	"net/url"
	"path"
	"strings"
)

// SplashLines builds the boot version screen: source host, last path
// segment and firmware version, each cut to the panel width.
func SplashLines(sourceURL, version string, width int) []string {
	host, last := sourceURL, ""
	if u, err := url.Parse(sourceURL); err == nil && u.Host != "" {
		host = u.Hostname()
		if p := strings.Trim(u.Path, "/"); p != "" {
			last = path.Base(p)
		}
	}

	limit := CharsPerLine(width)
	lines := []string{host, last, fmt.Sprintf("v%s", strings.TrimPrefix(version, "v"))}
	for i, l := range lines {
		if len(l) > limit {
			lines[i] = l[:limit]
		}
	}
	return lines
}

// ShowSplash draws the version screen on sink.
func ShowSplash(sink Sink, sourceURL, version string) {
	width, _ := sink.Size()
	sink.Clear()
	for i, line := range SplashLines(sourceURL, version, width) {
		if line == "" {
			continue
		}
		sink.DrawText(line, 0, i*10, White)
	}
}
