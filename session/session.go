// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/protoerr"
	"github.com/sage-x-project/protov2d/transport"
	"github.com/sage-x-project/protov2d/wire"
)

// Session is the long-lived object of spec.md §3: keyed by the
// client's session public key, it owns the QoS-1 outbox, ack
// bookkeeping, keepalive state, and the (possibly nil) current
// transport. It survives transport swaps across reconnects.
type Session struct {
	sessionID       string
	clientSide      bool
	protocolVersion int
	cfg             Config

	manager *Manager

	mu        sync.Mutex
	keyStack  [][]byte
	transport transport.Transport
	closed    bool

	connectedMu sync.Mutex
	connectedCh chan struct{}

	qos1Outbox       map[uint32][]byte
	qos1AwaitingAck  map[uint32]struct{}
	qos1AckResolvers map[uint32]chan struct{}
	qos1Active       map[uint32]struct{}
	qos1Counter      uint32
	delivered        map[uint32]struct{}

	ping  time.Duration
	pings *ringBuffer

	pingStop    chan struct{}
	firstPing   bool // server side: defer ping loop until client's first ping observed
	pendingPings *pendingPings

	OnData         func(payload []byte)
	OnConnected    func()
	OnDisconnected func()
	OnResumeFailed func(err error)
	OnPing         func(rtt, avg time.Duration)
	OnClosed       func(reason string)
}

func newSession(sessionID string, out Outcome, cfg Config) *Session {
	s := &Session{
		sessionID:        sessionID,
		clientSide:       out.ClientSide,
		protocolVersion:  out.ProtocolVersion,
		cfg:              cfg,
		keyStack:         out.KeyStack,
		connectedCh:      make(chan struct{}),
		qos1Outbox:       make(map[uint32][]byte),
		qos1AwaitingAck:  make(map[uint32]struct{}),
		qos1AckResolvers: make(map[uint32]chan struct{}),
		qos1Active:       make(map[uint32]struct{}),
		delivered:        make(map[uint32]struct{}),
		pings:            newRingBuffer(cfg.AvgPingCount),
		firstPing:        out.ClientSide, // client always pings immediately; server defers
	}
	return s
}

// ID returns hex(sessionPub), the session table key.
func (s *Session) ID() string { return s.sessionID }

// ClientSide reports which end of the handshake minted this session.
func (s *Session) ClientSide() bool { return s.clientSide }

// ProtocolVersion returns the negotiated handshake version (1 or 2).
func (s *Session) ProtocolVersion() int { return s.protocolVersion }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Ping returns the last RTT sample and the running average.
func (s *Session) Ping() (last, avg time.Duration) {
	return s.pings.last(), s.pings.average()
}

// attachTransport is the transport-swap procedure of spec.md §4.4.2.
// Steps 1-4 run here; step 5 (re-arming in-flight QoS-1 sends) is the
// caller's job once attachTransport returns, since it needs a context.
func (s *Session) attachTransport(t transport.Transport) {
	s.mu.Lock()
	old := s.transport
	s.transport = t
	s.mu.Unlock()

	if old != nil && old != t {
		old.Close(true, "Replaced by new transport")
	}

	t.OnReceive(func(frame []byte) { s.handleFrame(frame) })
	t.OnClose(func(explicit bool, reason string) { s.handleTransportClose(explicit, reason) })

	s.connectedMu.Lock()
	close(s.connectedCh)
	s.connectedCh = make(chan struct{})
	s.connectedMu.Unlock()

	if s.OnConnected != nil {
		s.OnConnected()
	}

	if !s.clientSide {
		// Server defers its ping clock until the client's first ping
		// on this transport lands, so handshake completion never
		// interleaves with the keepalive loop (spec.md §4.4.2 step 5).
		s.mu.Lock()
		s.firstPing = false
		s.mu.Unlock()
		return
	}
	s.restartPingLoop()
}

func (s *Session) currentTransport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

func (s *Session) handleTransportClose(explicit bool, reason string) {
	s.mu.Lock()
	s.transport = nil
	s.mu.Unlock()
	s.stopPingLoop()
	if s.OnDisconnected != nil {
		s.OnDisconnected()
	}
	if s.manager != nil {
		s.manager.armReconnectWindow(s.sessionID)
	}
}

// waitConnected blocks until a live, open transport is attached, or ctx
// is cancelled.
func (s *Session) waitConnected(ctx context.Context) transport.Transport {
	for {
		s.mu.Lock()
		t := s.transport
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}
		if t != nil && !t.Closed() {
			return t
		}
		s.connectedMu.Lock()
		ch := s.connectedCh
		s.connectedMu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil
		}
	}
}

// --- encryption stack -------------------------------------------------

// encodeStack applies each key in keyStack order, so the last key
// listed becomes the outermost ciphertext (spec.md §3/§4.4).
func (s *Session) encodeStack(plain []byte) ([]byte, error) {
	digest := s.protocolVersion != 1
	out := plain
	for _, k := range s.keyStack {
		enc, err := cryptoprim.AESEncrypt(out, k, digest)
		if err != nil {
			return nil, fmt.Errorf("session: encode stack: %w", err)
		}
		out = enc
	}
	return out, nil
}

// decodeStack reverses encodeStack, popping from the outside inward.
func (s *Session) decodeStack(envelope []byte) ([]byte, error) {
	digest := s.protocolVersion != 1
	out := envelope
	for i := len(s.keyStack) - 1; i >= 0; i-- {
		dec, err := cryptoprim.AESDecrypt(out, s.keyStack[i], digest)
		if err != nil {
			return nil, fmt.Errorf("session: decode stack: %w", err)
		}
		out = dec
	}
	return out, nil
}

// --- inbound frame dispatch -------------------------------------------

func (s *Session) handleFrame(frame []byte) {
	if len(frame) < 1 {
		return
	}
	switch wire.ChannelTag(frame[0]) {
	case wire.TagData:
		s.handleDataFrame(frame[1:])
	case wire.TagPing:
		s.handlePingFrame(frame[1:])
	case wire.TagGracefulClose:
		s.closeInternal("peer graceful close", false)
	}
}

func (s *Session) handleDataFrame(body []byte) {
	plain, err := s.decodeStack(body)
	if err != nil {
		// Decryption failure on the data channel closes the transport
		// with no partial state leaked (spec.md §4.3.4's closing rule
		// extends naturally to post-handshake frames).
		if t := s.currentTransport(); t != nil {
			t.Close(true, "decrypt failure")
		}
		return
	}
	if len(plain) < 1 {
		return
	}
	qos := plain[0]
	rest := plain[1:]

	if qos == wire.QoS0 {
		s.deliver(rest)
		return
	}
	if qos != wire.QoS1 || len(rest) < 5 {
		return
	}
	dupID, _ := wire.Uint32BE(rest[:4])
	ctrl := rest[4]

	if ctrl == wire.CtrlAck {
		s.resolveAck(dupID)
		return
	}

	payload := rest[5:]
	s.mu.Lock()
	_, already := s.delivered[dupID]
	if !already {
		s.delivered[dupID] = struct{}{}
	}
	s.mu.Unlock()
	if !already {
		s.deliver(payload)
	}
	s.sendAck(dupID)
}

func (s *Session) deliver(payload []byte) {
	if s.OnData != nil {
		s.OnData(payload)
	}
}

func (s *Session) sendAck(dupID uint32) {
	t := s.currentTransport()
	if t == nil {
		return
	}
	frame, err := s.encodeDataFrame(wire.QoS1, dupID, wire.CtrlAck, nil)
	if err != nil {
		return
	}
	_ = t.Send(frame)
}

func (s *Session) resolveAck(dupID uint32) {
	s.mu.Lock()
	ch, ok := s.qos1AckResolvers[dupID]
	s.mu.Unlock()
	if ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Session) encodeDataFrame(qos byte, dupID uint32, ctrl byte, payload []byte) ([]byte, error) {
	var plain []byte
	if qos == wire.QoS0 {
		plain = wire.Concat([]byte{qos}, payload)
	} else {
		head := wire.PutUint32BE([]byte{qos}, dupID)
		head = append(head, ctrl)
		plain = wire.Concat(head, payload)
	}
	enc, err := s.encodeStack(plain)
	if err != nil {
		return nil, err
	}
	return wire.Concat([]byte{byte(wire.TagData)}, enc), nil
}

// --- application-facing sends ------------------------------------------

// SendQoS0 fires payload with no acknowledgement, delivered at most
// once. If no transport is attached it sends nothing and returns a
// recoverable ErrTransportClosed error.
func (s *Session) SendQoS0(payload []byte) error {
	t := s.currentTransport()
	if t == nil {
		return protoerr.Wrap("session.SendQoS0", protoerr.ErrTransportClosed)
	}
	frame, err := s.encodeDataFrame(wire.QoS0, 0, 0, payload)
	if err != nil {
		return err
	}
	return t.Send(frame)
}

func (s *Session) serverSide() bool { return !s.clientSide }

func (s *Session) mintDupID() uint32 {
	s.mu.Lock()
	c := s.qos1Counter
	s.qos1Counter++
	s.mu.Unlock()
	return wire.MintDupID(c, s.serverSide())
}

// --- close ----------------------------------------------------------

// Close tears the session down explicitly: sends a graceful-close
// frame if connected, aborts all pending QoS-1 sends, and fires
// OnClosed exactly once.
func (s *Session) Close(reason string) {
	if t := s.currentTransport(); t != nil {
		_ = t.Send([]byte{byte(wire.TagGracefulClose)})
	}
	s.closeInternal(reason, true)
}

func (s *Session) closeInternal(reason string, explicit bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	t := s.transport
	s.transport = nil
	resolvers := s.qos1AckResolvers
	s.qos1AckResolvers = nil
	s.qos1AwaitingAck = nil
	s.qos1Outbox = nil
	s.mu.Unlock()

	s.stopPingLoop()
	for _, ch := range resolvers {
		close(ch)
	}
	if t != nil && explicit {
		t.Close(true, reason)
	}
	if s.manager != nil {
		s.manager.remove(s.sessionID)
	}
	if s.OnClosed != nil {
		s.OnClosed(reason)
	}
}
