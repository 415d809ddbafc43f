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
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-x-project/protov2d/internal/metrics"
	"github.com/sage-x-project/protov2d/transport"
	"github.com/sage-x-project/protov2d/wire"
)

// Manager owns the sessions map of spec.md §3/§5: insert on fresh
// handshake, read on resume, remove on reconnect-window timeout. The
// map itself is the only piece of state shared across sessions, so a
// single RWMutex is sufficient critical section (spec.md §5).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
	cfg      Config

	// OnNewSession fires only for fresh sessions (spec.md §4.3.4);
	// resumed sessions re-emit Session.OnConnected on the existing
	// object instead.
	OnNewSession func(s *Session)
	// OnDropConnection fires when a server's reconnect window elapses
	// without a resume (spec.md §4.4.4).
	OnDropConnection func(sessionID string)
}

// NewManager builds an empty session table with the given defaults.
func NewManager(cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		timers:   make(map[string]*time.Timer),
		cfg:      withDefaults(cfg),
	}
}

// Establish implements spec.md §4.3.4: look up sessionID = hex(sessionPub);
// if a non-closed session already exists, swap its transport and
// key stack in place (resume, newSession=false); otherwise insert a
// fresh session (newSession=true). Re-arming of outstanding QoS-1
// sends (step 5 of the transport-swap procedure) happens here too,
// using ctx to bound the re-armed sends' lifetime.
func (m *Manager) Establish(ctx context.Context, out Outcome, t transport.Transport) (sess *Session, isNew bool) {
	sessionID := wire.ToHex(out.SessionPub)

	m.mu.Lock()
	existing, ok := m.sessions[sessionID]
	if ok && existing.Closed() {
		ok = false
		delete(m.sessions, sessionID)
	}
	if !ok {
		sess = newSession(sessionID, out, m.cfg)
		sess.manager = m
		m.sessions[sessionID] = sess
	}
	m.mu.Unlock()

	if ok {
		m.cancelReconnectWindow(sessionID)
		existing.mu.Lock()
		existing.keyStack = out.KeyStack
		existing.protocolVersion = out.ProtocolVersion
		existing.mu.Unlock()
		existing.attachTransport(t)
		for dupID, payload := range existing.OutstandingQoS1() {
			existing.rearm(ctx, dupID, payload)
		}
		metrics.SessionsCreated.WithLabelValues("resumed").Inc()
		return existing, false
	}

	sess.attachTransport(t)
	metrics.SessionsCreated.WithLabelValues("new").Inc()
	metrics.SessionsActive.Inc()
	if m.OnNewSession != nil {
		m.OnNewSession(sess)
	}
	return sess, true
}

// Lookup returns the session for sessionID, if any.
func (m *Manager) Lookup(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	m.cancelReconnectWindow(sessionID)
	metrics.SessionsActive.Dec()
	metrics.SessionsClosed.Inc()
}

// armReconnectWindow starts the one-shot reconnect-window timer of
// spec.md §4.4.4 when a session's transport disconnects. A subsequent
// resume cancels it via cancelReconnectWindow; expiry closes the
// session and fires OnDropConnection.
func (m *Manager) armReconnectWindow(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.timers[sessionID]; exists {
		return
	}
	m.timers[sessionID] = time.AfterFunc(m.cfg.StreamTimeout, func() {
		m.mu.Lock()
		delete(m.timers, sessionID)
		sess, ok := m.sessions[sessionID]
		delete(m.sessions, sessionID)
		m.mu.Unlock()
		if ok {
			sess.closeInternal("reconnect window elapsed", false)
		}
		if m.OnDropConnection != nil {
			m.OnDropConnection(sessionID)
		}
	})
}

func (m *Manager) cancelReconnectWindow(sessionID string) {
	m.mu.Lock()
	t, ok := m.timers[sessionID]
	delete(m.timers, sessionID)
	m.mu.Unlock()
	if ok {
		t.Stop()
	}
}

// Close tears down every live session, used on server shutdown.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = make(map[string]*time.Timer)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			s.Close("manager shutdown")
			return nil
		})
	}
	_ = g.Wait()
}
