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
	"bytes"

	"github.com/sage-x-project/protov2d/cryptoprim"
)

// PinKind selects the shape of a PinEntry (spec.md §3).
type PinKind int

const (
	PinKey PinKind = iota
	PinHash
	PinNoVerify
)

// PinEntry is one acceptable server root-identity representation.
// PinNoVerify disables identity checks entirely and should only ever
// appear alone; spec.md §3 recommends against it.
type PinEntry struct {
	Kind  PinKind
	Bytes []byte // full root public key for PinKey, SHA-256 of it for PinHash
}

func PinFullKey(pub []byte) PinEntry  { return PinEntry{Kind: PinKey, Bytes: pub} }
func PinHashOf(pub []byte) PinEntry   { return PinEntry{Kind: PinHash, Bytes: cryptoprim.SHA256(pub)} }
func PinHashRaw(hash []byte) PinEntry { return PinEntry{Kind: PinHash, Bytes: hash} }
func PinAcceptAny() PinEntry          { return PinEntry{Kind: PinNoVerify} }

// PinSet is the client's ordered list of acceptable servers.
type PinSet []PinEntry

// AcceptsAny reports whether this pin set contains a NoVerify entry.
func (p PinSet) AcceptsAny() bool {
	for _, e := range p {
		if e.Kind == PinNoVerify {
			return true
		}
	}
	return false
}

// RequiresFullKey reports whether every entry is a PinKey, in which
// case the client may request full-key delivery during the handshake
// instead of settling for a hash (spec.md §3).
func (p PinSet) RequiresFullKey() bool {
	if len(p) == 0 {
		return false
	}
	for _, e := range p {
		if e.Kind != PinKey {
			return false
		}
	}
	return true
}

// Matches reports whether fullRootPub, the complete 2624-byte root
// public key, is in the pin set: equal to a PinKey entry or hashing to
// a PinHash entry. A bare 32-byte hash is not accepted here; the
// client's pinMatches handles hash-only pin material.
func (p PinSet) Matches(fullRootPub []byte) bool {
	if p.AcceptsAny() {
		return true
	}
	hash := cryptoprim.SHA256(fullRootPub)
	for _, e := range p {
		switch e.Kind {
		case PinKey:
			if bytes.Equal(e.Bytes, fullRootPub) {
				return true
			}
		case PinHash:
			if bytes.Equal(e.Bytes, hash) {
				return true
			}
		}
	}
	return false
}
