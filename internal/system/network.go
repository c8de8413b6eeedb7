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

// Package system holds the host-facing collaborators: network readiness and
// process restarts.
package system

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// InterfaceLister returns the host network interfaces with their addresses.
type InterfaceLister func() ([]Interface, error)

// Interface is the part of a network interface the monitor looks at.
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

func hostInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{Name: iface.Name, Flags: iface.Flags, Addrs: addrs})
	}
	return out, nil
}

// InterfaceMonitor treats the network as up when a non-loopback interface
// is up and holds a unicast address.
type InterfaceMonitor struct {
	list     InterfaceLister
	interval time.Duration
	log      *logrus.Entry

	mu   sync.Mutex
	last bool
}

// NewInterfaceMonitor polls the host interfaces every interval.
func NewInterfaceMonitor(interval time.Duration) *InterfaceMonitor {
	return NewInterfaceMonitorWithLister(interval, hostInterfaces)
}

// NewInterfaceMonitorWithLister uses list instead of the host interfaces (for testing)
func NewInterfaceMonitorWithLister(interval time.Duration, list InterfaceLister) *InterfaceMonitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &InterfaceMonitor{
		list:     list,
		interval: interval,
		log:      logging.For("network"),
	}
}

// IsUp reports whether a usable interface exists right now.
func (m *InterfaceMonitor) IsUp() bool {
	ifaces, err := m.list()
	if err != nil {
		m.log.Warnf("⚠️  Failed to list interfaces: %v", err)
		return false
	}
	return lo.SomeBy(ifaces, usable)
}

func usable(iface Interface) bool {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return false
	}
	return lo.SomeBy(iface.Addrs, func(a net.Addr) bool {
		ipnet, ok := a.(*net.IPNet)
		return ok && ipnet.IP.IsGlobalUnicast()
	})
}

// Watch calls onUp and onDown on every transition until ctx is done. The
// state at the time of the call is taken as the starting point.
func (m *InterfaceMonitor) Watch(ctx context.Context, onUp, onDown func()) {
	m.mu.Lock()
	m.last = m.IsUp()
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(onUp, onDown)
		}
	}
}

func (m *InterfaceMonitor) poll(onUp, onDown func()) {
	up := m.IsUp()

	m.mu.Lock()
	changed := up != m.last
	m.last = up
	m.mu.Unlock()

	if !changed {
		return
	}
	if up {
		m.log.Info("📶 Network is up")
		onUp()
	} else {
		m.log.Warn("📵 Network is down")
		onDown()
	}
}
