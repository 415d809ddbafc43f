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

// Package session implements the Session & Reliability Layer of
// spec.md §4.4: the long-lived object keyed by a client's session
// public key, the QoS-1 send/ack/retry loop, keepalive, and
// transport-swap handling across reconnects.
package session

import "time"

const GeneralPrefix = "protov2d-session"

// Config bundles the timing knobs spec.md §6 lists as optional
// configuration, with the defaults spec.md names inline.
type Config struct {
	AckTimeout    time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration
	AvgPingCount  int
	StreamTimeout time.Duration
}

// DefaultConfig returns the defaults named throughout spec.md §4.4.
func DefaultConfig() Config {
	return Config{
		AckTimeout:    10 * time.Second,
		PingInterval:  15 * time.Second,
		PingTimeout:   10 * time.Second,
		AvgPingCount:  10,
		StreamTimeout: 120 * time.Second,
	}
}

func withDefaults(c Config) Config {
	d := DefaultConfig()
	if c.AckTimeout == 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = d.PingTimeout
	}
	if c.AvgPingCount == 0 {
		c.AvgPingCount = d.AvgPingCount
	}
	if c.StreamTimeout == 0 {
		c.StreamTimeout = d.StreamTimeout
	}
	return c
}

// Outcome is what the handshake engine hands to Manager.Establish once
// a peer's session signature has verified: the negotiated session
// identity, protocol version, and the ordered AES-GCM key stack (the
// first key is the innermost layer on encrypt, the last key the
// outermost; see Session.encodeStack).
type Outcome struct {
	SessionPub      []byte
	ProtocolVersion int
	KeyStack        [][]byte
	ClientSide      bool
}

// Status mirrors the teacher's session-manager status snapshot,
// rescoped from message counters to the session table's size.
type Status struct {
	TotalSessions int
}
