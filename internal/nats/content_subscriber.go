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

// Package nats is the broker-based push channel: control documents and
// fragmented images arrive on per-display subjects, status goes back out.
package nats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/loqalabs/loqa-display-go/internal/transport"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const BroadcastControlSubject = "display.broadcast.control"

func ControlSubject(displayID string) string { return fmt.Sprintf("display.%s.control", displayID) }
func ImageSubject(displayID string) string   { return fmt.Sprintf("display.%s.image", displayID) }
func StatusSubject(displayID string) string  { return fmt.Sprintf("display.%s.status", displayID) }

// DisplayNATSConnection interface for dependency injection
type DisplayNATSConnection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// DisplayNATSConnectionAdapter adapts *nats.Conn to DisplayNATSConnection
type DisplayNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewDisplayNATSConnectionAdapter(conn *nats.Conn) *DisplayNATSConnectionAdapter {
	return &DisplayNATSConnectionAdapter{conn: conn}
}

func (a *DisplayNATSConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *DisplayNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *DisplayNATSConnectionAdapter) Close() {
	a.conn.Close()
}

// SessionListener is told when the broker connection comes and goes.
type SessionListener interface {
	OnConnect()
	OnDisconnect()
}

// Deps are the collaborators shared with the websocket channel.
type Deps struct {
	Reassembler *transport.Reassembler
	Control     *transport.ControlHandler
	Listener    SessionListener
	Indicator   transport.IndicatorSink
}

// Options for dialing the broker.
type Options struct {
	ConnectAttempts int
	RetryDelay      time.Duration
	ReconnectWait   time.Duration
}

// DefaultOptions retries the first connect five times, two seconds apart.
func DefaultOptions() Options {
	return Options{
		ConnectAttempts: 5,
		RetryDelay:      2 * time.Second,
		ReconnectWait:   5 * time.Second,
	}
}

// ContentSubscriber feeds broker messages into the reassembler and the
// control handler.
type ContentSubscriber struct {
	natsConn  DisplayNATSConnection
	displayID string
	device    transport.DeviceInfo
	deps      Deps
	log       *logrus.Entry
	connected atomic.Bool
	frames    atomic.Int64
}

// NewContentSubscriber connects to natsURL and returns a subscriber bound to
// the connection. The client library handles reconnects after that.
func NewContentSubscriber(natsURL, displayID string, device transport.DeviceInfo, deps Deps, opts Options) (*ContentSubscriber, error) {
	if opts.ConnectAttempts <= 0 {
		opts = DefaultOptions()
	}

	cs := &ContentSubscriber{
		displayID: displayID,
		device:    device,
		deps:      deps,
		log:       logging.For("nats"),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < opts.ConnectAttempts; i++ {
		nc, err = nats.Connect(natsURL,
			nats.Name("loqa-display-"+displayID),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(opts.ReconnectWait),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) { cs.handleDisconnect(err) }),
			nats.ReconnectHandler(func(_ *nats.Conn) { cs.handleReconnect() }),
		)
		if err == nil {
			break
		}
		cs.log.Warnf("⚠️  Failed to connect to NATS (attempt %d/%d): %v", i+1, opts.ConnectAttempts, err)
		time.Sleep(opts.RetryDelay)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", opts.ConnectAttempts, err)
	}

	cs.log.Infof("✅ Connected to NATS at %s", natsURL)
	cs.natsConn = NewDisplayNATSConnectionAdapter(nc)
	return cs, nil
}

// NewContentSubscriberWithConnection uses an existing connection (for testing)
func NewContentSubscriberWithConnection(conn DisplayNATSConnection, displayID string, device transport.DeviceInfo, deps Deps) *ContentSubscriber {
	return &ContentSubscriber{
		natsConn:  conn,
		displayID: displayID,
		device:    device,
		deps:      deps,
		log:       logging.For("nats"),
	}
}

// Start subscribes to the display subjects and announces the device.
func (cs *ContentSubscriber) Start() error {
	subs := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{ControlSubject(cs.displayID), cs.handleControl},
		{BroadcastControlSubject, cs.handleControl},
		{ImageSubject(cs.displayID), cs.handleImage},
	}
	for _, s := range subs {
		if _, err := cs.natsConn.Subscribe(s.subject, s.handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
		}
	}
	cs.log.Infof("📡 Subscribed to %s, %s, %s", subs[0].subject, subs[1].subject, subs[2].subject)

	cs.connected.Store(true)
	cs.announce()
	cs.deps.Listener.OnConnect()
	return nil
}

func (cs *ContentSubscriber) announce() {
	data, err := transport.ClientInfoMessage(cs.device)
	if err != nil {
		cs.log.Warnf("⚠️  Failed to encode client info: %v", err)
		return
	}
	cs.publish(data)
}

func (cs *ContentSubscriber) publish(data []byte) {
	if err := cs.natsConn.Publish(StatusSubject(cs.displayID), data); err != nil {
		cs.log.Debugf("Failed to publish status: %v", err)
	}
}

func (cs *ContentSubscriber) handleControl(msg *nats.Msg) {
	if _, err := cs.deps.Control.Handle(msg.Data); err != nil {
		cs.log.Warnf("⚠️  %v", err)
	}
}

func (cs *ContentSubscriber) handleImage(msg *nats.Msg) {
	frame, err := transport.DeserializeFrame(msg.Data)
	if err != nil {
		cs.log.Errorf("❌ Bad image frame on %s: %v", msg.Subject, err)
		return
	}
	frag, err := frame.Fragment()
	if err != nil {
		cs.log.Errorf("❌ %v", err)
		return
	}
	cs.frames.Add(1)
	cs.deps.Reassembler.Feed(frag)
}

// FramesReceived counts image frames accepted so far.
func (cs *ContentSubscriber) FramesReceived() int64 {
	return cs.frames.Load()
}

// Connected reports whether the broker connection is up.
func (cs *ContentSubscriber) Connected() bool {
	return cs.connected.Load()
}

// Queued publishes a queued notification.
func (cs *ContentSubscriber) Queued(counter int) {
	cs.publish(transport.QueuedMessage(counter))
}

// Displaying publishes a displaying notification.
func (cs *ContentSubscriber) Displaying(counter int) {
	cs.publish(transport.DisplayingMessage(counter))
}

func (cs *ContentSubscriber) handleDisconnect(err error) {
	if !cs.connected.Swap(false) {
		return
	}
	cs.log.Warnf("🔌 NATS disconnected: %v", err)
	cs.deps.Reassembler.Reset()
	cs.deps.Listener.OnDisconnect()
	cs.deps.Indicator.DrawErrorIndicator()
}

func (cs *ContentSubscriber) handleReconnect() {
	if cs.connected.Swap(true) {
		return
	}
	cs.log.Info("🔗 NATS reconnected")
	cs.announce()
	cs.deps.Listener.OnConnect()
}

// Close closes the NATS connection
func (cs *ContentSubscriber) Close() {
	if cs.natsConn != nil {
		cs.connected.Store(false)
		cs.natsConn.Close()
		cs.log.Info("🔌 NATS connection closed")
	}
}
