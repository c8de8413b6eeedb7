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

package content

// Grow makes room for n more bytes in buf without exceeding max. Capacity at
// least doubles (capped at max) so appends stay amortised.
func Grow(buf []byte, n, max int) ([]byte, error) {
	need := len(buf) + n
	if need > max {
		return buf, ErrTooLarge
	}
	if need <= cap(buf) {
		return buf, nil
	}

	newCap := min(cap(buf)*2, max)
	if newCap < need {
		newCap = need
	}
	grown := make([]byte, len(buf), newCap)
	copy(grown, buf)
	return grown, nil
}
