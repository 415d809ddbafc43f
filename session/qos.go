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
	"time"

	"github.com/sage-x-project/protov2d/wire"

	"github.com/sage-x-project/protov2d/internal/metrics"
	"github.com/sage-x-project/protov2d/protoerr"
)

// SendQoS1 implements the send_qos1 algorithm of spec.md §4.4.1: mint
// a fresh dupID, buffer the payload, and retry every AckTimeout until
// acknowledged or the session closes. The call blocks (or returns on
// ctx cancellation) across however many reconnects it takes.
func (s *Session) SendQoS1(ctx context.Context, payload []byte) error {
	return s.sendQoS1(ctx, s.mintDupID(), payload)
}

// rearm re-sends an already-buffered QoS-1 payload using its original
// dupID, per spec.md §4.4.2 step 5 (transport swap re-arms every dupID
// still in qos1AwaitingAck).
func (s *Session) rearm(ctx context.Context, dupID uint32, payload []byte) {
	go func() { _ = s.sendQoS1(ctx, dupID, payload) }()
}

func (s *Session) sendQoS1(ctx context.Context, dupID uint32, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protoerr.Wrap("session.SendQoS1", protoerr.ErrSessionClosed)
	}
	if _, active := s.qos1Active[dupID]; active {
		// A send loop for this dupID (the original caller, still
		// blocked in waitConnected across a transport swap) is already
		// running. Manager.Establish's re-arm on resume would
		// otherwise race a second loop against the first for the same
		// dupID; skip instead of duplicating it.
		s.mu.Unlock()
		return nil
	}
	s.qos1Active[dupID] = struct{}{}
	s.qos1Outbox[dupID] = payload
	s.qos1AwaitingAck[dupID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.qos1Active, dupID)
		s.mu.Unlock()
	}()

	retry := false
	for {
		t := s.waitConnected(ctx)
		if t == nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return protoerr.Wrap("session.SendQoS1", protoerr.ErrSessionClosed)
			}
			return ctx.Err()
		}

		ackCh := make(chan struct{}, 1)
		s.mu.Lock()
		s.qos1AckResolvers[dupID] = ackCh
		s.mu.Unlock()

		ctrl := wire.CtrlFirstSend
		if retry {
			ctrl = wire.CtrlRetransmit
		}
		frame, err := s.encodeDataFrame(wire.QoS1, dupID, ctrl, payload)
		if err != nil {
			return err
		}

		if err := t.Send(frame); err != nil {
			retry = true
			continue
		}
		if retry {
			metrics.QoS1Retransmits.Inc()
		}

		select {
		case _, ok := <-ackCh:
			s.mu.Lock()
			delete(s.qos1AwaitingAck, dupID)
			delete(s.qos1AckResolvers, dupID)
			delete(s.qos1Outbox, dupID)
			s.mu.Unlock()
			if !ok {
				// ackCh was closed by closeInternal: the session shut
				// down before this send was acknowledged.
				return protoerr.Wrap("session.SendQoS1", protoerr.ErrSessionClosed)
			}
			metrics.QoS1Acked.Inc()
			return nil
		case <-time.After(s.cfg.AckTimeout):
			retry = true
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OutstandingQoS1 returns the dupID/payload pairs still awaiting ack,
// used by the manager to re-arm sends after a resume.
func (s *Session) OutstandingQoS1() map[uint32][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint32][]byte, len(s.qos1AwaitingAck))
	for id := range s.qos1AwaitingAck {
		out[id] = s.qos1Outbox[id]
	}
	return out
}
