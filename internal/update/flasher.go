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

package update

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// BinaryFlasher replaces an executable with the staged image. The
// process supervisor starts the new binary after the restart.
type BinaryFlasher struct {
	Fs     afero.Fs
	Target string
}

// Flash copies path next to the target and renames it into place.
func (f BinaryFlasher) Flash(ctx context.Context, path string, _ []byte) error {
	if f.Target == "" {
		return fmt.Errorf("no flash target configured")
	}

	src, err := f.Fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open staged image: %w", err)
	}
	defer func() { _ = src.Close() }()

	next := f.Target + ".next"
	dst, err := f.Fs.OpenFile(next, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", next, err)
	}
	_, err = io.Copy(dst, &ctxReader{ctx: ctx, r: src})
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = f.Fs.Remove(next)
		return fmt.Errorf("failed to copy image: %w", err)
	}

	if err := f.Fs.Rename(next, f.Target); err != nil {
		_ = f.Fs.Remove(next)
		return fmt.Errorf("failed to install %s: %w", filepath.Base(f.Target), err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
