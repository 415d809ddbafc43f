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

// Package handshake is the per-connection state machine of spec.md
// §4.3: it negotiates protocol version, derives the layered AES-GCM
// key stack, verifies server identity against the client's pin set,
// and proves client session-key possession before handing off to the
// session layer.
package handshake

import (
	"context"

	"github.com/sage-x-project/protov2d/protoerr"
	"github.com/sage-x-project/protov2d/transport"
)

// V1Mode controls whether a client offers, forces, or refuses the
// legacy v1 handshake (spec.md §6's handshakeV1 option).
type V1Mode int

const (
	V1Auto V1Mode = iota
	V1Forced
	V1Disabled
)

// ServerConfig is the server-side configuration of spec.md §6.
type ServerConfig struct {
	Identity               *RootIdentity
	AllowDisableEncryption bool // permits the v2 unencrypted flow
	V1Enabled              bool // legacy handshake accepted at all
	SupportedVersions      []int
}

// DefaultServerConfig advertises both versions with the v1 legacy
// handshake accepted and the unencrypted v2 mode refused.
func DefaultServerConfig(identity *RootIdentity) ServerConfig {
	return ServerConfig{
		Identity:          identity,
		V1Enabled:         true,
		SupportedVersions: []int{1, 2},
	}
}

// ClientConfig is the client-side configuration of spec.md §6.
type ClientConfig struct {
	PinSet            PinSet
	V1Mode            V1Mode
	DisableEncryption bool

	// Session is the client's session signing keypair. Callers must
	// generate it once (GenerateSessionIdentity) and persist/replay
	// the same value across reconnects: the session key is the only
	// thing that lets the server recognize a resumed sessionID
	// (spec.md §1, §3).
	Session *SessionIdentity
}

// frameLink turns a callback-based transport.Transport into a
// blocking-read channel for the sequential handshake state machine,
// per spec.md §9's note that event-emitter patterns become explicit
// message-passing edges here.
type frameLink struct {
	frames chan []byte
	closed chan struct{}
}

func listen(t transport.Transport) *frameLink {
	fl := &frameLink{frames: make(chan []byte, 4), closed: make(chan struct{})}
	t.OnReceive(func(f []byte) {
		select {
		case fl.frames <- f:
		case <-fl.closed:
		}
	})
	t.OnClose(func(explicit bool, reason string) {
		select {
		case <-fl.closed:
		default:
			close(fl.closed)
		}
	})
	return fl
}

func (fl *frameLink) next(ctx context.Context) ([]byte, error) {
	select {
	case f := <-fl.frames:
		return f, nil
	case <-fl.closed:
		return nil, protoerr.Wrap("handshake", protoerr.ErrTransportClosed)
	case <-ctx.Done():
		return nil, protoerr.Wrap("handshake", ctx.Err())
	}
}
