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
	"encoding/hex"
	"sync"
	"time"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/internal/metrics"
	"github.com/sage-x-project/protov2d/wire"
)

// pendingPings tracks in-flight ping nonces awaiting a pong, guarded
// by its own mutex rather than the session's main lock since the
// ping loop's timer callbacks run on their own goroutine.
type pendingPings struct {
	mu      sync.Mutex
	waiting map[string]time.Time
}

func (s *Session) restartPingLoop() {
	s.stopPingLoop()
	stop := make(chan struct{})
	s.mu.Lock()
	s.pingStop = stop
	s.firstPing = true
	s.mu.Unlock()

	pp := &pendingPings{waiting: make(map[string]time.Time)}
	s.mu.Lock()
	s.pendingPings = pp
	s.mu.Unlock()

	go s.pingLoop(stop, pp)
}

func (s *Session) stopPingLoop() {
	s.mu.Lock()
	stop := s.pingStop
	s.pingStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (s *Session) pingLoop(stop chan struct{}, pp *pendingPings) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sendPing(pp)
		}
	}
}

func (s *Session) sendPing(pp *pendingPings) {
	t := s.currentTransport()
	if t == nil {
		return
	}
	nonce, err := cryptoprim.RandomBytes(16)
	if err != nil {
		return
	}
	key := hex.EncodeToString(nonce)
	sentAt := time.Now()

	pp.mu.Lock()
	pp.waiting[key] = sentAt
	pp.mu.Unlock()

	frame := wire.Concat([]byte{byte(wire.TagPing), wire.PingRequest}, nonce)
	if err := t.Send(frame); err != nil {
		return
	}

	timeout := s.cfg.PingTimeout
	time.AfterFunc(timeout, func() {
		pp.mu.Lock()
		_, stillWaiting := pp.waiting[key]
		if stillWaiting {
			delete(pp.waiting, key)
		}
		pp.mu.Unlock()
		if stillWaiting {
			// No pong within PingTimeout: close non-explicitly, the
			// session object stays alive awaiting resume (spec.md §4.4.3).
			if cur := s.currentTransport(); cur == t {
				t.Close(false, "ping timeout")
			}
		}
	})
}

func (s *Session) handlePingFrame(body []byte) {
	if len(body) < 17 {
		return
	}
	sub := body[0]
	nonce := body[1:17]

	switch sub {
	case wire.PingRequest:
		t := s.currentTransport()
		if t == nil {
			return
		}
		reply := wire.Concat([]byte{byte(wire.TagPing), wire.PingReply}, nonce)
		_ = t.Send(reply)

		if !s.clientSide {
			s.mu.Lock()
			first := !s.firstPing
			s.firstPing = true
			s.mu.Unlock()
			if first {
				s.restartPingLoop()
			}
		}
	case wire.PingReply:
		s.mu.Lock()
		pp := s.pendingPings
		s.mu.Unlock()
		if pp == nil {
			return
		}
		key := hex.EncodeToString(nonce)
		pp.mu.Lock()
		sentAt, ok := pp.waiting[key]
		if ok {
			delete(pp.waiting, key)
		}
		pp.mu.Unlock()
		if ok {
			rtt := time.Since(sentAt)
			s.pings.push(rtt)
			s.ping = rtt
			metrics.PingRTT.Observe(rtt.Seconds())
			if s.OnPing != nil {
				s.OnPing(rtt, s.pings.average())
			}
		}
	}
}
