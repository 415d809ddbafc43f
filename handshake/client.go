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
	"context"
	"crypto/ed25519"
	"time"

	"github.com/sage-x-project/protov2d/cryptoprim"
	"github.com/sage-x-project/protov2d/internal/metrics"
	"github.com/sage-x-project/protov2d/protoerr"
	"github.com/sage-x-project/protov2d/session"
	"github.com/sage-x-project/protov2d/transport"
	"github.com/sage-x-project/protov2d/wire"
)

// RunClient drives one connection through the client side of the
// state machine of spec.md §4.3 and returns the negotiated Outcome for
// session.Manager.Establish, mirroring RunServer's shape. Any
// signature failure, pin mismatch, malformed frame, or frame arriving
// outside the expected step closes t with no partial state leaked.
func RunClient(ctx context.Context, t transport.Transport, cfg ClientConfig) (session.Outcome, error) {
	metrics.HandshakesInitiated.WithLabelValues("client").Inc()
	start := time.Now()
	out, err := runClient(ctx, t, cfg)
	metrics.HandshakeDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues(errorTypeLabel(err)).Inc()
	} else {
		metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	}
	return out, err
}

func runClient(ctx context.Context, t transport.Transport, cfg ClientConfig) (session.Outcome, error) {
	fl := listen(t)

	handshakeVersion := 2
	supported := []int{1, 2}
	switch cfg.V1Mode {
	case V1Forced:
		handshakeVersion = 1
		supported = []int{1}
	case V1Disabled:
		handshakeVersion = 2
		supported = []int{2}
	}

	encryptionMode := wire.EncryptionModeHashPin
	if cfg.DisableEncryption {
		encryptionMode = wire.EncryptionModeUnencrypted
	} else if cfg.PinSet.RequiresFullKey() {
		encryptionMode = wire.EncryptionModeFullPin
	}

	body, err := wire.EncodeInitialPacket(wire.InitialPacket{
		HandshakeVersion:  handshakeVersion,
		SupportedVersions: supported,
		EncryptionMode:    encryptionMode,
	})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client", err)
	}
	if err := t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, body)); err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client", err)
	}

	if handshakeVersion == 1 {
		return runClientV1(ctx, t, fl, cfg)
	}
	return runClientV2(ctx, t, fl, cfg, encryptionMode)
}

// --- v1 legacy flow ----------------------------------------------------

func runClientV1(ctx context.Context, t transport.Transport, fl *frameLink, cfg ClientConfig) (session.Outcome, error) {
	frame, err := fl.next(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	if isVersionMismatch(frame) {
		t.Close(true, "unsupported handshake version")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrUnsupportedVersion)
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrUnexpectedFrame)
	}
	hello, err := wire.DecodeV1ServerHello(frame[1:])
	if err != nil {
		t.Close(true, "malformed v1 server hello")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}

	ephPQPub, err := wire.FromHex(hello.EphPQPubHex)
	if err != nil {
		t.Close(true, "malformed v1 server hello hex")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	compositeSig, err := wire.FromHex(hello.SigHex)
	if err != nil {
		t.Close(true, "malformed v1 server hello hex")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	rootPub, err := wire.FromHex(hello.RootPubHex)
	if err != nil {
		t.Close(true, "malformed v1 root pub hex")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	if !cfg.PinSet.Matches(rootPub) {
		t.Close(true, "server identity not in pin set")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrPinMismatch)
	}
	sigClassic, sigPQ, err := wire.SplitV1CompositeSig(compositeSig, cryptoprim.DilithiumSignatureSize)
	if err != nil {
		t.Close(true, "v1 sentinel missing")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrSentinelMissing)
	}
	if !verifyRootSignature(rootPub, ephPQPub, sigClassic, sigPQ) {
		t.Close(true, "signature verification failed")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrSignatureInvalid)
	}

	ephPub, err := cryptoprim.UnpackKyberPublicKey(ephPQPub)
	if err != nil {
		t.Close(true, "malformed kyber public key")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	kyberCT, kPQ, err := cryptoprim.KyberEncapsulate(ephPub)
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}
	kemBody, err := wire.EncodeV1ClientKEM(wire.V1ClientKEM{KyberCTHex: wire.ToHex(kyberCT)})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}
	if err := t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, kemBody)); err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}

	frame, err = fl.next(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrUnexpectedFrame)
	}
	plain, err := cryptoprim.AESDecrypt(frame[1:], kPQ, false)
	if err != nil {
		t.Close(true, "decrypt failure")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrSignatureInvalid)
	}
	challenge, err := wire.DecodeV1ServerChallenge(plain)
	if err != nil {
		t.Close(true, "malformed v1 server challenge")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	randomBytes, err := wire.FromHex(challenge.Random)
	if err != nil {
		t.Close(true, "malformed v1 server challenge hex")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}
	challengePrime := v1ChallengePrime(randomBytes)

	sess := cfg.Session
	sigClassic2 := sess.SignClassic(challengePrime)
	sigPQ2 := sess.SignPQ(challengePrime)
	proofBody, err := wire.EncodeV1ClientSessionProof(wire.V1ClientSessionProof{
		SessionPubHex: wire.ToHex(sess.WireBytes()),
		SigHex:        wire.ToHex(wire.BuildV1CompositeSig(sigClassic2, sigPQ2)),
	})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}
	encProof, err := cryptoprim.AESEncrypt(proofBody, kPQ, false)
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}
	if err := t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, encProof)); err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v1", err)
	}

	frame, err = fl.next(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrUnexpectedFrame)
	}
	ackPlain, err := cryptoprim.AESDecrypt(frame[1:], kPQ, false)
	if err != nil {
		t.Close(true, "decrypt failure")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrSignatureInvalid)
	}
	if _, err := wire.DecodeV1ServerAck(ackPlain); err != nil {
		t.Close(true, "malformed v1 server ack")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v1", protoerr.ErrMalformedOption)
	}

	return session.Outcome{
		SessionPub:      sess.WireBytes(),
		ProtocolVersion: 1,
		KeyStack:        [][]byte{kPQ},
		ClientSide:      true,
	}, nil
}

// verifyRootSignature checks sigClassic/sigPQ over message under the
// classic/pq halves of rootPub (the server's long-lived identity, not
// a session key — mirrors handshake/server.go's verifySessionProof).
func verifyRootSignature(rootPub, message, sigClassic, sigPQ []byte) bool {
	if len(rootPub) != wire.SessionPubSize {
		return false
	}
	classicPub := ed25519.PublicKey(rootPub[:ed25519.PublicKeySize])
	pqPub, err := cryptoprim.UnpackDilithiumPublicKey(rootPub[ed25519.PublicKeySize:])
	if err != nil {
		return false
	}
	if !cryptoprim.Ed25519Verify(classicPub, message, sigClassic) {
		return false
	}
	return cryptoprim.DilithiumVerify(pqPub, message, sigPQ)
}

func isVersionMismatch(frame []byte) bool {
	return len(frame) >= 3 && wire.ChannelTag(frame[0]) == wire.TagHandshake &&
		frame[1] == wire.HSStepServerHello && frame[2] == wire.ServerHelloModeVersionMismatch
}

// --- v2 flow -------------------------------------------------------------

func runClientV2(ctx context.Context, t transport.Transport, fl *frameLink, cfg ClientConfig, encryptionMode int) (session.Outcome, error) {
	frame, err := fl.next(ctx)
	if err != nil {
		return session.Outcome{}, err
	}
	if len(frame) < 3 || wire.ChannelTag(frame[0]) != wire.TagHandshake || frame[1] != wire.HSStepServerHello {
		t.Close(true, "expected server hello")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrUnexpectedFrame)
	}
	switch frame[2] {
	case wire.ServerHelloModeVersionMismatch:
		t.Close(true, "unsupported handshake version")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrUnsupportedVersion)
	case wire.ServerHelloModeUnencryptedRefused:
		t.Close(true, "unencrypted handshake refused")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrUnencryptedRefused)
	case wire.ServerHelloModeUnencrypted:
		return runClientV2Unencrypted(ctx, t, fl, cfg, frame[3:])
	case wire.ServerHelloModeEncrypted:
		return runClientV2Encrypted(ctx, t, fl, cfg, frame[3:])
	default:
		t.Close(true, "unknown server hello mode")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrMalformedOption)
	}
}

func runClientV2Encrypted(ctx context.Context, t transport.Transport, fl *frameLink, cfg ClientConfig, body []byte) (session.Outcome, error) {
	hello, err := wire.DecodeV2ServerHelloEncrypted(body)
	if err != nil {
		t.Close(true, "malformed v2 server hello")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrMalformedOption)
	}

	signed := wire.Concat(hello.X25519Pub, hello.KyberPub)
	if !cfg.PinSet.AcceptsAny() {
		if rootPub := resolveRootPub(cfg.PinSet, hello.PinMaterial); rootPub != nil {
			if !verifyRootSignature(rootPub, signed, hello.SigClassic, hello.SigPQ) {
				t.Close(true, "signature verification failed")
				return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrSignatureInvalid)
			}
		}
	}
	if !pinMatches(cfg.PinSet, hello.PinMaterial) {
		t.Close(true, "server identity not in pin set")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrPinMismatch)
	}

	x25519, err := cryptoprim.GenerateX25519()
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}
	kClassic, err := x25519.DH(hello.X25519Pub)
	if err != nil {
		t.Close(true, "x25519 dh failure")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrMalformedOption)
	}
	kyberPub, err := cryptoprim.UnpackKyberPublicKey(hello.KyberPub)
	if err != nil {
		t.Close(true, "malformed kyber public key")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrMalformedOption)
	}
	kyberCT, kPQ, err := cryptoprim.KyberEncapsulate(kyberPub)
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}

	sess := cfg.Session
	proofBytes, err := wire.EncodeSessionProof(wire.SessionProof{
		SessionPub: sess.WireBytes(),
		SigClassic: sess.SignClassic(hello.Challenge),
		SigPQ:      sess.SignPQ(hello.Challenge),
	})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}
	// E_kClassic(E_kPQ(proof)): kPQ is the inner layer, kClassic the
	// outer, matching the [kPQ, kClassic] key-stack order the session
	// layer applies post-handshake (spec.md §4.3.3/§4.4).
	inner, err := cryptoprim.AESEncrypt(proofBytes, kPQ, true)
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}
	outer, err := cryptoprim.AESEncrypt(inner, kClassic, true)
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}

	respBody, err := wire.EncodeV2ClientResponseEncrypted(wire.V2ClientResponseEncrypted{
		X25519Pub:             x25519.PublicBytes(),
		KyberCT:               kyberCT,
		EncryptedSessionProof: outer,
	})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}
	frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSClientResponse}, respBody)
	if err := t.Send(frame); err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2", err)
	}

	newSession, err := readServerFinalAck(ctx, t, fl)
	if err != nil {
		return session.Outcome{}, err
	}
	_ = newSession

	return session.Outcome{
		SessionPub:      sess.WireBytes(),
		ProtocolVersion: 2,
		KeyStack:        [][]byte{kPQ, kClassic},
		ClientSide:      true,
	}, nil
}

func runClientV2Unencrypted(ctx context.Context, t transport.Transport, fl *frameLink, cfg ClientConfig, challenge []byte) (session.Outcome, error) {
	if len(challenge) != wire.ChallengeSize {
		t.Close(true, "malformed challenge")
		return session.Outcome{}, protoerr.WrapFatal("handshake.client.v2u", protoerr.ErrMalformedOption)
	}
	sess := cfg.Session
	proofBody, err := wire.EncodeSessionProof(wire.SessionProof{
		SessionPub: sess.WireBytes(),
		SigClassic: sess.SignClassic(challenge),
		SigPQ:      sess.SignPQ(challenge),
	})
	if err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2u", err)
	}
	frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSClientResponse}, proofBody)
	if err := t.Send(frame); err != nil {
		return session.Outcome{}, protoerr.Wrap("handshake.client.v2u", err)
	}

	if _, err := readServerFinalAck(ctx, t, fl); err != nil {
		return session.Outcome{}, err
	}

	return session.Outcome{
		SessionPub:      sess.WireBytes(),
		ProtocolVersion: 2,
		KeyStack:        nil,
		ClientSide:      true,
	}, nil
}

func readServerFinalAck(ctx context.Context, t transport.Transport, fl *frameLink) (newSession bool, err error) {
	frame, err := fl.next(ctx)
	if err != nil {
		return false, err
	}
	if len(frame) < 3 || wire.ChannelTag(frame[0]) != wire.TagHandshake || frame[1] != wire.HSServerFinalAck {
		t.Close(true, "expected server final ack")
		return false, protoerr.WrapFatal("handshake.client.v2", protoerr.ErrUnexpectedFrame)
	}
	return frame[2] != 0, nil
}

// resolveRootPub returns the full root public key to verify
// sigClassic/sigPQ against, given whatever pinMaterial the server
// actually delivered. When the server sent the full 2624-byte root
// key directly (encryptionMode=1), that is the key. When it sent only
// the 32-byte SHA-256 (encryptionMode=0), the signature still covers
// x25519Pub ∥ kyberPub under the server's root identity (spec.md
// §4.3.3 makes no exception for hash-delivery mode), so the full key
// is recovered from a PinKey entry in the client's own pin set whose
// hash matches — the client may hold the full key locally even though
// the server didn't send it this time. If the pin set holds no PinKey
// entry at all, there is genuinely no key material anywhere to verify
// against; see DESIGN.md's Open Question on hash-only pin sets.
func resolveRootPub(p PinSet, pinMaterial []byte) []byte {
	if len(pinMaterial) == wire.SessionPubSize {
		return pinMaterial
	}
	for _, e := range p {
		if e.Kind == PinKey && bytesEqual(cryptoprim.SHA256(e.Bytes), pinMaterial) {
			return e.Bytes
		}
	}
	return nil
}

// pinMatches authenticates pinMaterial against cfg's pin set: a full
// root key is matched via PinSet.Matches directly; a bare 32-byte hash
// is compared against each PinHash entry (and the hash of each PinKey
// entry) since PinSet.Matches expects a full key to re-hash itself.
func pinMatches(p PinSet, pinMaterial []byte) bool {
	if p.AcceptsAny() {
		return true
	}
	if len(pinMaterial) == wire.SessionPubSize {
		return p.Matches(pinMaterial)
	}
	for _, e := range p {
		switch e.Kind {
		case PinHash:
			if bytesEqual(e.Bytes, pinMaterial) {
				return true
			}
		case PinKey:
			if bytesEqual(cryptoprim.SHA256(e.Bytes), pinMaterial) {
				return true
			}
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
