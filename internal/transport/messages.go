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
	"net"
	"os"

	"github.com/google/uuid"
)

const (
	ProtocolVersion = 1
	FirmwareType    = "loqa-display-go"
)

// DeviceInfo is announced to the server when a session opens.
type DeviceInfo struct {
	FirmwareVersion string `json:"firmware_version"`
	FirmwareType    string `json:"firmware_type"`
	ProtocolVersion int    `json:"protocol_version"`
	MAC             string `json:"mac"`
	Hostname        string `json:"hostname"`
	SessionID       string `json:"session_id"`
	DisplayWidth    int    `json:"display_width"`
	DisplayHeight   int    `json:"display_height"`
	ImageURL        string `json:"image_url"`
}

// NewDeviceInfo collects host details for the handshake.
func NewDeviceInfo(version, imageURL string, width, height int) DeviceInfo {
	hostname, _ := os.Hostname()
	return DeviceInfo{
		FirmwareVersion: version,
		FirmwareType:    FirmwareType,
		ProtocolVersion: ProtocolVersion,
		MAC:             primaryMAC(),
		Hostname:        hostname,
		SessionID:       uuid.NewString(),
		DisplayWidth:    width,
		DisplayHeight:   height,
		ImageURL:        imageURL,
	}
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}

// ClientInfoMessage is the first message sent on a new session.
func ClientInfoMessage(info DeviceInfo) ([]byte, error) {
	return json.Marshal(map[string]DeviceInfo{"client_info": info})
}

// QueuedMessage tells the server an image was accepted.
func QueuedMessage(counter int) []byte {
	data, _ := json.Marshal(map[string]int{"queued": counter})
	return data
}

// DisplayingMessage tells the server an image is on the panel.
func DisplayingMessage(counter int) []byte {
	data, _ := json.Marshal(map[string]int{"displaying": counter})
	return data
}
