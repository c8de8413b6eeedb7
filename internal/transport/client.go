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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-display-go/internal/logging"
	"github.com/loqalabs/loqa-display-go/internal/timers"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Send without an open session.
var ErrNotConnected = errors.New("not connected")

// State of the push client.
type State int

const (
	// StateDisconnected means the network is down.
	StateDisconnected State = iota
	// StateReady means the network is up but no session is open.
	StateReady
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Listener is told when the session opens and closes.
type Listener interface {
	OnConnect()
	OnDisconnect()
}

// NetworkMonitor reports whether the device has a usable network.
type NetworkMonitor interface {
	IsUp() bool
}

// IndicatorSink shows a transport problem on the panel.
type IndicatorSink interface {
	DrawErrorIndicator()
}

// ClientConfig tunes the push client.
type ClientConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	HealthInterval    time.Duration
	MaxHealthFailures int
	ConnectTimeout    time.Duration
	PingTimeout       time.Duration
	ChunkSize         int
	MaxControlSize    int64
}

func (c *ClientConfig) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.MaxHealthFailures <= 0 {
		c.MaxHealthFailures = 10
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 8 * 1024
	}
	if c.MaxControlSize <= 0 {
		c.MaxControlSize = 64 * 1024
	}
}

// ClientDeps are the collaborators of a Client.
type ClientDeps struct {
	Reassembler *Reassembler
	Control     *ControlHandler
	Listener    Listener
	Network     NetworkMonitor
	Indicator   IndicatorSink
	Restarter   Restarter
}

// Client keeps a websocket session to the content server alive.
type Client struct {
	cfg    ClientConfig
	device DeviceInfo
	deps   ClientDeps
	dialer *websocket.Dialer
	log    *logrus.Entry

	mu             sync.Mutex
	ctx            context.Context
	state          State
	conn           *websocket.Conn
	connecting     bool
	healthFailures int

	writeMu   sync.Mutex
	reconnect timers.OneShot
	attempts  atomic.Int32
}

// NewClient creates a push client for cfg.URL (ws:// or wss://).
func NewClient(cfg ClientConfig, device DeviceInfo, deps ClientDeps) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:    cfg,
		device: device,
		deps:   deps,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.ConnectTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		log: logging.For("transport"),
	}
}

// Start begins connecting and runs the health check until ctx is done.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	up := c.deps.Network.IsUp()
	if up {
		c.state = StateReady
	} else {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	go c.healthLoop(ctx)
	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	if up {
		go c.connect()
	} else {
		c.log.Warn("⚠️  Network down, waiting before connecting")
	}
}

// Stop closes the session and disarms the reconnect timer.
func (c *Client) Stop() {
	c.reconnect.Disarm()

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.log.Info("🔌 Push session closed")
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConnectAttempts counts dial attempts since creation.
func (c *Client) ConnectAttempts() int {
	return int(c.attempts.Load())
}

// ReconnectArmed reports whether a reconnect is scheduled.
func (c *Client) ReconnectArmed() bool {
	return c.reconnect.Armed()
}

// OnNetworkUp reconnects at once instead of waiting for the timer.
func (c *Client) OnNetworkUp() {
	c.reconnect.Disarm()

	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.mu.Unlock()

	c.log.Info("📶 Network up, connecting now")
	go c.connect()
}

// OnNetworkDown drops the session; the next OnNetworkUp reconnects.
func (c *Client) OnNetworkDown() {
	c.reconnect.Disarm()

	c.mu.Lock()
	wasConnected := c.state == StateConnected
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.log.Warn("📵 Network down")
	if conn != nil {
		_ = conn.Close()
	}
	c.deps.Reassembler.Reset()
	if wasConnected {
		c.deps.Listener.OnDisconnect()
		c.deps.Indicator.DrawErrorIndicator()
	}
}

func (c *Client) connect() {
	c.mu.Lock()
	if c.connecting || c.state == StateConnected || c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	ctx := c.ctx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	c.attempts.Add(1)
	c.log.Infof("🔗 Connecting to %s", c.cfg.URL)

	header := http.Header{}
	header.Set("X-Firmware-Version", c.device.FirmwareVersion)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, header)
	cancel()
	if err != nil {
		c.log.Warnf("❌ Connect failed: %v", err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if ctx.Err() != nil || c.state == StateDisconnected {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.healthFailures = 0
	c.mu.Unlock()

	c.reconnect.Disarm()
	c.watchPongs(conn)
	c.log.Info("✅ Push session established")

	if err := c.sendClientInfo(); err != nil {
		c.log.Warnf("⚠️  Failed to send client info: %v", err)
	}
	c.deps.Listener.OnConnect()

	go c.readLoop(conn)
}

func (c *Client) sendClientInfo() error {
	data, err := ClientInfoMessage(c.device)
	if err != nil {
		return fmt.Errorf("failed to encode client info: %w", err)
	}
	return c.Send(data)
}

// Send writes a text message on the open session.
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Queued forwards a queued notification to the server.
func (c *Client) Queued(counter int) {
	if err := c.Send(QueuedMessage(counter)); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Debugf("Failed to send queued notification: %v", err)
	}
}

// Displaying forwards a displaying notification to the server.
func (c *Client) Displaying(counter int) {
	if err := c.Send(DisplayingMessage(counter)); err != nil && !errors.Is(err, ErrNotConnected) {
		c.log.Debugf("Failed to send displaying notification: %v", err)
	}
}

// pongWait is how long a session may stay silent: one health interval for
// the next ping plus the time its pong may take.
func (c *Client) pongWait() time.Duration {
	return c.cfg.HealthInterval + c.cfg.PingTimeout
}

// watchPongs arms the read deadline. A pong or any message extends it, so a
// peer that stops answering pings fails the read loop.
func (c *Client) watchPongs(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		mt, r, err := conn.NextReader()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.pongWait()))

		switch mt {
		case websocket.TextMessage:
			data, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxControlSize))
			if err != nil {
				c.handleDisconnect(conn, err)
				return
			}
			if _, err := c.deps.Control.Handle(data); err != nil {
				c.log.Warnf("⚠️  %v", err)
			}
		case websocket.BinaryMessage:
			if err := c.feedBinary(r); err != nil {
				c.handleDisconnect(conn, err)
				return
			}
		}
	}
}

// feedBinary streams one binary message into the reassembler in chunks.
// The first chunk is the start fragment; the one that hits EOF is final.
func (c *Client) feedBinary(r io.Reader) error {
	chunk := make([]byte, c.cfg.ChunkSize)
	op := OpStart
	for {
		n, err := io.ReadFull(r, chunk)
		final := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !final {
			c.deps.Reassembler.Reset()
			return err
		}

		data := make([]byte, n)
		copy(data, chunk[:n])
		c.deps.Reassembler.Feed(Fragment{Op: op, Final: final, Data: data})
		if final {
			return nil
		}
		op = OpContinuation
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	wasConnected := c.state == StateConnected
	if wasConnected {
		c.state = StateReady
	}
	c.mu.Unlock()

	_ = conn.Close()
	c.deps.Reassembler.Reset()
	if !wasConnected {
		return
	}

	c.log.Warnf("🔌 Push session lost: %v", cause)
	c.deps.Listener.OnDisconnect()
	c.deps.Indicator.DrawErrorIndicator()
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.ctx == nil || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	if !c.deps.Network.IsUp() {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Warn("⚠️  Network down, reconnect waits for it")
		return
	}
	c.mu.Unlock()

	c.log.Infof("🔄 Reconnecting in %s", c.cfg.ReconnectDelay)
	c.reconnect.Arm(c.cfg.ReconnectDelay, c.onReconnectTimer)
}

func (c *Client) onReconnectTimer() {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return
	}
	if !c.deps.Network.IsUp() {
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.mu.Unlock()

	c.connect()
}

func (c *Client) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkHealth()
		}
	}
}

// checkHealth runs one health-check round. Sustained network loss restarts
// the device. A failed ping closes the session so the read loop reports it,
// and a ping left unanswered lets the read deadline expire.
func (c *Client) checkHealth() {
	if !c.deps.Network.IsUp() {
		c.mu.Lock()
		c.healthFailures++
		failures := c.healthFailures
		c.mu.Unlock()

		c.log.Warnf("⚠️  Health check failed (%d/%d)", failures, c.cfg.MaxHealthFailures)
		if failures >= c.cfg.MaxHealthFailures && c.deps.Restarter != nil {
			c.deps.Restarter.Restart("network health check failed repeatedly")
		}
		return
	}

	c.mu.Lock()
	c.healthFailures = 0
	conn := c.conn
	state := c.state
	connecting := c.connecting
	c.mu.Unlock()

	if conn == nil {
		if state != StateConnected && !connecting && !c.reconnect.Armed() {
			c.log.Info("🩺 No session and no reconnect pending, connecting")
			c.mu.Lock()
			if c.state == StateDisconnected {
				c.state = StateReady
			}
			c.mu.Unlock()
			go c.connect()
		}
		return
	}

	c.writeMu.Lock()
	err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.PingTimeout))
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warnf("⚠️  Ping failed, closing session: %v", err)
		_ = conn.Close()
	}
}
