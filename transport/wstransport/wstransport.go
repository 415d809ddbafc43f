// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package wstransport implements transport.Transport over a
// github.com/gorilla/websocket connection, on both the dialing
// (client) and accepting (server) sides.
package wstransport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sage-x-project/protov2d/transport"
)

// WSTransport adapts a single gorilla/websocket connection to
// transport.Transport. Every inbound frame — binary or text — is
// delivered as raw bytes; text frames are UTF-8 by construction.
type WSTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex
	closer  transport.CloseOnce

	onReceiveMu sync.Mutex
	onReceive   func([]byte)
}

// New wraps an already-established *websocket.Conn and starts its
// read loop. writeTimeout bounds each Send call; zero disables the
// deadline.
func New(conn *websocket.Conn, writeTimeout time.Duration) *WSTransport {
	t := &WSTransport{conn: conn, writeTimeout: writeTimeout}
	go t.readLoop()
	return t
}

// Dial connects to a ws:// or wss:// URL and returns a ready transport.
func Dial(ctx context.Context, url string, handshakeTimeout time.Duration) (*WSTransport, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wstransport: dial %s (HTTP %d): %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("wstransport: dial %s: %w", url, err)
	}
	return New(conn, 30*time.Second), nil
}

// Upgrader wraps gorilla's websocket.Upgrader for server-side accept.
type Upgrader struct {
	ws websocket.Upgrader
}

// NewUpgrader builds a server-side upgrader. CheckOrigin is left to
// the caller's http.Handler wiring; ProtoV2d has no opinion on CORS.
func NewUpgrader(checkOrigin func(r *http.Request) bool) *Upgrader {
	return &Upgrader{ws: websocket.Upgrader{CheckOrigin: checkOrigin}}
}

// Upgrade promotes an HTTP request to a WebSocket transport.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WSTransport, error) {
	conn, err := u.ws.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wstransport: upgrade: %w", err)
	}
	return New(conn, 30*time.Second), nil
}

func (t *WSTransport) Send(frame []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return fmt.Errorf("wstransport: set write deadline: %w", err)
		}
	}
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return fmt.Errorf("wstransport: write: %w", err)
	}
	return nil
}

func (t *WSTransport) OnReceive(fn func(frame []byte)) {
	t.onReceiveMu.Lock()
	defer t.onReceiveMu.Unlock()
	t.onReceive = fn
}

func (t *WSTransport) OnClose(fn func(explicit bool, reason string)) {
	t.closer.SetHandler(fn)
}

func (t *WSTransport) Closed() bool { return t.closer.Closed() }

func (t *WSTransport) Close(explicit bool, reason string) {
	t.writeMu.Lock()
	_ = t.conn.Close()
	t.writeMu.Unlock()
	t.closer.Fire(explicit, reason)
}

func (t *WSTransport) readLoop() {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			reason := "read error"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "peer closed"
			}
			t.closer.Fire(false, reason)
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		t.onReceiveMu.Lock()
		cb := t.onReceive
		t.onReceiveMu.Unlock()
		if cb != nil {
			cb(data)
		}
	}
}

var _ transport.Transport = (*WSTransport)(nil)
