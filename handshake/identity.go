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

package handshake

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode5"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/wire"
)

// RootIdentity is the server's long-lived keypair of spec.md §3:
// classic ∥ pq, public key = classicPub ∥ pqPub. Generating it is
// explicitly out of this core's scope (spec.md §1); callers load it
// from configuration via ParseRootIdentity.
type RootIdentity struct {
	ClassicPub  ed25519.PublicKey
	ClassicPriv ed25519.PrivateKey
	PQPub       *mode5.PublicKey
	PQPriv      *mode5.PrivateKey
}

// PublicBytes returns classicPub ∥ pqPub, the 2624-byte root public key.
func (r RootIdentity) PublicBytes() []byte {
	return wire.Concat(r.ClassicPub, cryptoprim.PackDilithiumPublicKey(r.PQPub))
}

// ParseRootIdentity reconstructs a RootIdentity from the raw private
// and public key bytes spec.md §3/§6 says configuration carries as hex:
// private = classicPriv(64) ∥ pqPriv; public = classicPub(32) ∥ pqPub(2592).
func ParseRootIdentity(privBytes, pubBytes []byte) (*RootIdentity, error) {
	if len(pubBytes) != ed25519.PublicKeySize+cryptoprim.DilithiumPublicKeySize {
		return nil, fmt.Errorf("handshake: root public key: want %d bytes, got %d",
			ed25519.PublicKeySize+cryptoprim.DilithiumPublicKeySize, len(pubBytes))
	}
	if len(privBytes) != ed25519.PrivateKeySize+cryptoprim.DilithiumPrivateKeySize {
		return nil, fmt.Errorf("handshake: root private key: want %d bytes, got %d",
			ed25519.PrivateKeySize+cryptoprim.DilithiumPrivateKeySize, len(privBytes))
	}
	classicPub := ed25519.PublicKey(pubBytes[:ed25519.PublicKeySize])
	pqPub, err := cryptoprim.UnpackDilithiumPublicKey(pubBytes[ed25519.PublicKeySize:])
	if err != nil {
		return nil, fmt.Errorf("handshake: root public key: %w", err)
	}
	classicPriv := ed25519.PrivateKey(privBytes[:ed25519.PrivateKeySize])
	pqPriv := new(mode5.PrivateKey)
	pqPriv.Unpack(privBytes[ed25519.PrivateKeySize:])
	return &RootIdentity{
		ClassicPub:  classicPub,
		ClassicPriv: classicPriv,
		PQPub:       pqPub,
		PQPriv:      pqPriv,
	}, nil
}

// GenerateRootIdentity creates a fresh root identity. Used by the
// standalone keygen CLI, never by the handshake engine itself.
func GenerateRootIdentity() (*RootIdentity, error) {
	cPub, cPriv, err := cryptoprim.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	pPub, pPriv, err := cryptoprim.GenerateDilithium5()
	if err != nil {
		return nil, err
	}
	return &RootIdentity{ClassicPub: cPub, ClassicPriv: cPriv, PQPub: pPub, PQPriv: pPriv}, nil
}

// SessionIdentity is the client's per-session signing keypair: its
// possession (proved by signing the server's challenge) *is* the
// session's identity (spec.md §1 Non-goals). Regenerated fresh unless
// the caller persists and replays one to force a deterministic resume.
type SessionIdentity struct {
	ClassicPub  ed25519.PublicKey
	ClassicPriv ed25519.PrivateKey
	PQPub       *mode5.PublicKey
	PQPriv      *mode5.PrivateKey
}

// GenerateSessionIdentity creates a fresh client session keypair.
func GenerateSessionIdentity() (*SessionIdentity, error) {
	cPub, cPriv, err := cryptoprim.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	pPub, pPriv, err := cryptoprim.GenerateDilithium5()
	if err != nil {
		return nil, err
	}
	return &SessionIdentity{ClassicPub: cPub, ClassicPriv: cPriv, PQPub: pPub, PQPriv: pPriv}, nil
}

// WireBytes returns the 2624-byte classicPub ∥ pqPub sessionPub
// composite. spec.md §3 glosses v1's sessionID as a "Dilithium-only
// form", but §4.3.3's step 5 wire record carries a single undifferentiated
// hex(sessionPub) field and both session key halves sign the challenge
// in both versions, so v1 and v2 use the same composite on the wire.
func (s *SessionIdentity) WireBytes() []byte {
	pq := cryptoprim.PackDilithiumPublicKey(s.PQPub)
	return wire.Concat(s.ClassicPub, pq)
}

// SignClassic and SignPQ sign the same message under each half of the
// session keypair. v2 carries the two signatures side by side on the
// wire (spec.md §6); v1 joins them with the F311 sentinel instead (see
// wire.BuildV1CompositeSig).
func (s *SessionIdentity) SignClassic(message []byte) []byte {
	return cryptoprim.Ed25519Sign(s.ClassicPriv, message)
}

func (s *SessionIdentity) SignPQ(message []byte) []byte {
	return cryptoprim.DilithiumSign(s.PQPriv, message)
}
