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

// Package discovery advertises the display on the local network so hubs can
// find it without configuration.
package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/mdns"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/sirupsen/logrus"
)

// ServiceType is the DNS-SD service the display registers.
const ServiceType = "_loqa-display._tcp"

// Info is what goes into the advertisement.
type Info struct {
	ID      string
	Version string
	Mode    string
	Port    int
	// IPs defaults to the addresses of the host name when empty.
	IPs []net.IP
}

// TXT builds the TXT records of the advertisement.
func (i Info) TXT() []string {
	return []string{
		"id=" + i.ID,
		"version=" + i.Version,
		"mode=" + strings.ToLower(i.Mode),
	}
}

// NewService builds the mDNS zone for info.
func NewService(info Info) (*mdns.MDNSService, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	if !strings.HasSuffix(host, ".") {
		host += ".local."
	}
	svc, err := mdns.NewMDNSService(info.ID, ServiceType, "", host, info.Port, info.IPs, info.TXT())
	if err != nil {
		return nil, fmt.Errorf("failed to build mdns service: %w", err)
	}
	return svc, nil
}

// Advertiser answers mDNS queries for the display.
type Advertiser struct {
	mu     sync.Mutex
	server *mdns.Server
	log    *logrus.Entry
}

// NewAdvertiser creates a stopped advertiser.
func NewAdvertiser() *Advertiser {
	return &Advertiser{log: logging.For("mdns")}
}

// Start begins answering queries.
func (a *Advertiser) Start(info Info) error {
	svc, err := NewService(info)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return fmt.Errorf("advertiser already running")
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return fmt.Errorf("failed to start mdns server: %w", err)
	}
	a.server = server
	a.log.Infof("📣 Advertising %s as %q on port %d", ServiceType, info.ID, info.Port)
	return nil
}

// Stop withdraws the advertisement.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	if err := a.server.Shutdown(); err != nil {
		a.log.Warnf("⚠️  Failed to stop mdns server: %v", err)
	}
	a.server = nil
}
