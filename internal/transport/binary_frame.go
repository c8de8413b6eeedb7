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
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Binary fragment frames carry image content over message brokers that do
// not have native fragmentation (NATS). Websocket sessions use the
// protocol's own framing instead.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// FrameTypeImageStart opens a new image; any unfinished image is dropped.
	FrameTypeImageStart FrameType = 0x01
	// FrameTypeImageData continues the image opened by the last start frame.
	FrameTypeImageData FrameType = 0x02
)

// FlagFinal marks the last fragment of an image.
const FlagFinal uint8 = 0x01

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	Flags     uint8
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (24 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x4C4F5141 ("LOQA")
	Type      FrameType // Frame type (1 byte)
	Flags     uint8     // FlagFinal (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	SessionID uint32    // Session identifier (4 bytes)
	Sequence  uint32    // Fragment index within the image (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x4C4F5141 // "LOQA" in big-endian

	MaxFrameSize = 32 * 1024
	HeaderSize   = 24
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Flags:     f.Flags,
		Length:    uint16(len(f.Data)), //nolint:gosec // bounded by MaxDataSize
		SessionID: f.SessionID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(f.Data)))
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	buf.Write(f.Data)

	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data to a frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	buf := bytes.NewReader(data)
	var header FrameHeader
	if err := binary.Read(buf, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}

	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	frame := &Frame{
		Type:      header.Type,
		Flags:     header.Flags,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}
	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(buf, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}

	return frame, nil
}

// IsFinal reports whether the frame completes an image.
func (f *Frame) IsFinal() bool {
	return f.Flags&FlagFinal != 0
}

// Fragment converts the frame into reassembler input.
func (f *Frame) Fragment() (Fragment, error) {
	switch f.Type {
	case FrameTypeImageStart:
		return Fragment{Op: OpStart, Final: f.IsFinal(), Data: f.Data}, nil
	case FrameTypeImageData:
		return Fragment{Op: OpContinuation, Final: f.IsFinal(), Data: f.Data}, nil
	default:
		return Fragment{}, fmt.Errorf("unexpected frame type 0x%02X", uint8(f.Type))
	}
}

// SplitImage cuts an image into fragment frames of at most chunk bytes.
func SplitImage(data []byte, sessionID uint32, chunk int, timestamp uint64) []*Frame {
	if chunk <= 0 || chunk > MaxDataSize {
		chunk = MaxDataSize
	}

	var frames []*Frame
	for seq := uint32(0); ; seq++ {
		n := min(chunk, len(data))
		f := &Frame{
			Type:      FrameTypeImageData,
			SessionID: sessionID,
			Sequence:  seq,
			Timestamp: timestamp,
			Data:      data[:n],
		}
		if seq == 0 {
			f.Type = FrameTypeImageStart
		}
		data = data[n:]
		if len(data) == 0 {
			f.Flags = FlagFinal
			return append(frames, f)
		}
		frames = append(frames, f)
	}
}
