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

// Establisher is the subset of *session.Manager the server handshake
// needs, kept as an interface so tests can fake the session table.
type Establisher interface {
	Establish(ctx context.Context, out session.Outcome, t transport.Transport) (*session.Session, bool)
}

// RunServer drives one connection through the server side of the
// state machine of spec.md §4.3, handing the authenticated connection
// off to mgr.Establish on success. Any signature failure, pin
// mismatch, malformed frame, or out-of-order frame closes t with no
// partial state leaked, per spec.md §4.3.4.
func RunServer(ctx context.Context, t transport.Transport, cfg ServerConfig, mgr Establisher) (*session.Session, bool, error) {
	metrics.HandshakesInitiated.WithLabelValues("server").Inc()
	start := time.Now()
	sess, isNew, err := runServer(ctx, t, cfg, mgr)
	metrics.HandshakeDuration.WithLabelValues("total").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.HandshakesCompleted.WithLabelValues("failure").Inc()
		metrics.HandshakesFailed.WithLabelValues(errorTypeLabel(err)).Inc()
	} else {
		metrics.HandshakesCompleted.WithLabelValues("success").Inc()
	}
	return sess, isNew, err
}

// errorTypeLabel buckets a handshake failure for the HandshakesFailed
// counter: a recoverable error is a transport/timing hiccup, anything
// else is a protocol-level rejection.
func errorTypeLabel(err error) string {
	if protoerr.IsRecoverable(err) {
		return "network"
	}
	return "invalid"
}

func runServer(ctx context.Context, t transport.Transport, cfg ServerConfig, mgr Establisher) (*session.Session, bool, error) {
	fl := listen(t)

	frame, err := fl.next(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return nil, false, protoerr.WrapFatal("handshake.server", protoerr.ErrUnexpectedFrame)
	}
	init, err := wire.DecodeInitialPacket(frame[1:])
	if err != nil {
		t.Close(true, "malformed initial packet")
		return nil, false, protoerr.WrapFatal("handshake.server", protoerr.ErrMalformedOption)
	}

	supported := effectiveSupportedVersions(cfg)
	if !containsInt(supported, init.HandshakeVersion) {
		sendVersionMismatch(t, supported)
		t.Close(true, "unsupported handshake version")
		return nil, false, protoerr.WrapFatal("handshake.server", protoerr.ErrUnsupportedVersion)
	}

	if init.HandshakeVersion == 1 {
		return runServerV1(ctx, t, fl, cfg, mgr)
	}
	return runServerV2(ctx, t, fl, cfg, mgr, init.EncryptionMode)
}

func effectiveSupportedVersions(cfg ServerConfig) []int {
	out := make([]int, 0, len(cfg.SupportedVersions))
	for _, v := range cfg.SupportedVersions {
		if v == 1 && !cfg.V1Enabled {
			continue
		}
		out = append(out, v)
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func sendVersionMismatch(t transport.Transport, supported []int) {
	body, err := wire.EncodeVersionMismatch(supported)
	if err != nil {
		return
	}
	frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSStepServerHello, wire.ServerHelloModeVersionMismatch}, body)
	_ = t.Send(frame)
}

// --- v1 legacy flow ----------------------------------------------------

func runServerV1(ctx context.Context, t transport.Transport, fl *frameLink, cfg ServerConfig, mgr Establisher) (*session.Session, bool, error) {
	ephPub, ephPriv, err := cryptoprim.GenerateKyber1024()
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}
	ephPubBytes := cryptoprim.PackKyberPublicKey(ephPub)

	sigClassic := cryptoprim.Ed25519Sign(cfg.Identity.ClassicPriv, ephPubBytes)
	sigPQ := cryptoprim.DilithiumSign(cfg.Identity.PQPriv, ephPubBytes)
	composite := wire.BuildV1CompositeSig(sigClassic, sigPQ)

	hello := wire.V1ServerHello{
		EphPQPubHex: wire.ToHex(ephPubBytes),
		SigHex:      wire.ToHex(composite),
		RootPubHex:  wire.ToHex(cfg.Identity.PublicBytes()),
	}
	body, err := wire.EncodeV1ServerHello(hello)
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}
	if err := t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, body)); err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}

	frame, err := fl.next(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrUnexpectedFrame)
	}
	kem, err := wire.DecodeV1ClientKEM(frame[1:])
	if err != nil {
		t.Close(true, "malformed v1 client kem")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrMalformedOption)
	}
	kyberCT, err := wire.FromHex(kem.KyberCTHex)
	if err != nil {
		t.Close(true, "malformed v1 client kem hex")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrMalformedOption)
	}
	kPQ, err := cryptoprim.KyberDecapsulate(ephPriv, kyberCT)
	if err != nil {
		t.Close(true, "kyber decapsulate failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrSignatureInvalid)
	}

	randomBytes, err := cryptoprim.RandomBytes(64)
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}
	challengeBody, err := wire.EncodeV1ServerChallenge(wire.V1ServerChallenge{Random: wire.ToHex(randomBytes)})
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}
	encChallenge, err := cryptoprim.AESEncrypt(challengeBody, kPQ, false)
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}
	if err := t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, encChallenge)); err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v1", err)
	}

	challengePrime := v1ChallengePrime(randomBytes)

	frame, err = fl.next(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(frame) < 1 || wire.ChannelTag(frame[0]) != wire.TagHandshake {
		t.Close(true, "expected handshake frame")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrUnexpectedFrame)
	}
	plain, err := cryptoprim.AESDecrypt(frame[1:], kPQ, false)
	if err != nil {
		t.Close(true, "decrypt failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrSignatureInvalid)
	}
	proof, err := wire.DecodeV1ClientSessionProof(plain)
	if err != nil {
		t.Close(true, "malformed v1 session proof")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrMalformedOption)
	}
	sessionPub, err := wire.FromHex(proof.SessionPubHex)
	if err != nil || len(sessionPub) != wire.SessionPubSize {
		t.Close(true, "malformed session pub")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrMalformedOption)
	}
	compositeSig, err := wire.FromHex(proof.SigHex)
	if err != nil {
		t.Close(true, "malformed session sig")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrMalformedOption)
	}
	sigClassic2, sigPQ2, err := wire.SplitV1CompositeSig(compositeSig, cryptoprim.DilithiumSignatureSize)
	if err != nil {
		t.Close(true, "v1 sentinel missing")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrSentinelMissing)
	}
	if !verifySessionProof(sessionPub, challengePrime, sigClassic2, sigPQ2) {
		t.Close(true, "signature verification failed")
		return nil, false, protoerr.WrapFatal("handshake.server.v1", protoerr.ErrSignatureInvalid)
	}

	sess, isNew := mgr.Establish(ctx, session.Outcome{
		SessionPub:      sessionPub,
		ProtocolVersion: 1,
		KeyStack:        [][]byte{kPQ},
		ClientSide:      false,
	}, t)

	ackBody, err := wire.EncodeV1ServerAck(wire.V1ServerAck{NewSession: isNew})
	if err != nil {
		return sess, isNew, protoerr.Wrap("handshake.server.v1", err)
	}
	encAck, err := cryptoprim.AESEncrypt(ackBody, kPQ, false)
	if err != nil {
		return sess, isNew, protoerr.Wrap("handshake.server.v1", err)
	}
	_ = t.Send(wire.Concat([]byte{byte(wire.TagHandshake)}, encAck))
	return sess, isNew, nil
}

// v1ChallengePrime reproduces spec.md §4.3.3/§9's vestigial double
// hash exactly: SHA-512(SHA-512("") ∥ SHA-512(random)). The
// empty-string inner hash is dead weight kept for wire compatibility.
func v1ChallengePrime(random []byte) []byte {
	emptyHash := cryptoprim.SHA512(nil)
	randomHash := cryptoprim.SHA512(random)
	return cryptoprim.SHA512(wire.Concat(emptyHash, randomHash))
}

// verifySessionProof checks sigClassic/sigPQ over message under the
// classic/pq halves embedded in sessionPub itself: the session's own
// keys, not the server's root identity (spec.md §1 Non-goals).
func verifySessionProof(sessionPub, message, sigClassic, sigPQ []byte) bool {
	if len(sessionPub) != wire.SessionPubSize {
		return false
	}
	classicPub := ed25519.PublicKey(sessionPub[:ed25519.PublicKeySize])
	pqPub, err := cryptoprim.UnpackDilithiumPublicKey(sessionPub[ed25519.PublicKeySize:])
	if err != nil {
		return false
	}
	if !cryptoprim.Ed25519Verify(classicPub, message, sigClassic) {
		return false
	}
	return cryptoprim.DilithiumVerify(pqPub, message, sigPQ)
}

// --- v2 flow -------------------------------------------------------------

func runServerV2(ctx context.Context, t transport.Transport, fl *frameLink, cfg ServerConfig, mgr Establisher, encryptionMode int) (*session.Session, bool, error) {
	if encryptionMode == wire.EncryptionModeUnencrypted {
		if !cfg.AllowDisableEncryption {
			frame := []byte{byte(wire.TagHandshake), wire.HSStepServerHello, wire.ServerHelloModeUnencryptedRefused}
			_ = t.Send(frame)
			t.Close(true, "unencrypted handshake refused")
			return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrUnencryptedRefused)
		}
		return runServerV2Unencrypted(ctx, t, fl, mgr)
	}
	return runServerV2Encrypted(ctx, t, fl, cfg, mgr, encryptionMode)
}

func runServerV2Encrypted(ctx context.Context, t transport.Transport, fl *frameLink, cfg ServerConfig, mgr Establisher, encryptionMode int) (*session.Session, bool, error) {
	x25519, err := cryptoprim.GenerateX25519()
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2", err)
	}
	kyberPub, kyberPriv, err := cryptoprim.GenerateKyber1024()
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2", err)
	}
	kyberPubBytes := cryptoprim.PackKyberPublicKey(kyberPub)
	signed := wire.Concat(x25519.PublicBytes(), kyberPubBytes)
	sigClassic := cryptoprim.Ed25519Sign(cfg.Identity.ClassicPriv, signed)
	sigPQ := cryptoprim.DilithiumSign(cfg.Identity.PQPriv, signed)

	challenge, err := cryptoprim.RandomBytes(wire.ChallengeSize)
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2", err)
	}

	var pinMaterial []byte
	if encryptionMode == wire.EncryptionModeFullPin {
		pinMaterial = cfg.Identity.PublicBytes()
	} else {
		pinMaterial = cryptoprim.SHA256(cfg.Identity.PublicBytes())
	}

	body, err := wire.EncodeV2ServerHelloEncrypted(wire.V2ServerHelloEncrypted{
		X25519Pub:   x25519.PublicBytes(),
		KyberPub:    kyberPubBytes,
		SigClassic:  sigClassic,
		SigPQ:       sigPQ,
		Challenge:   challenge,
		PinMaterial: pinMaterial,
	})
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2", err)
	}
	frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSStepServerHello, wire.ServerHelloModeEncrypted}, body)
	if err := t.Send(frame); err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2", err)
	}

	respFrame, err := fl.next(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(respFrame) < 2 || wire.ChannelTag(respFrame[0]) != wire.TagHandshake || respFrame[1] != wire.HSClientResponse {
		t.Close(true, "expected client response")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrUnexpectedFrame)
	}
	resp, err := wire.DecodeV2ClientResponseEncrypted(respFrame[2:])
	if err != nil {
		t.Close(true, "malformed client response")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrMalformedOption)
	}

	kClassic, err := x25519.DH(resp.X25519Pub)
	if err != nil {
		t.Close(true, "x25519 dh failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrSignatureInvalid)
	}
	kPQ, err := cryptoprim.KyberDecapsulate(kyberPriv, resp.KyberCT)
	if err != nil {
		t.Close(true, "kyber decapsulate failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrSignatureInvalid)
	}

	// Client nested E_kClassic(E_kPQ(proof)): kClassic is the outer
	// layer, peeled first, matching the [kPQ, kClassic] key-stack
	// convention the session layer uses post-handshake.
	innerLayer, err := cryptoprim.AESDecrypt(resp.EncryptedSessionProof, kClassic, true)
	if err != nil {
		t.Close(true, "outer decrypt failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrSignatureInvalid)
	}
	proofBytes, err := cryptoprim.AESDecrypt(innerLayer, kPQ, true)
	if err != nil {
		t.Close(true, "inner decrypt failure")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrSignatureInvalid)
	}
	proof, err := wire.DecodeSessionProof(proofBytes)
	if err != nil {
		t.Close(true, "malformed session proof")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrMalformedOption)
	}
	if !verifySessionProof(proof.SessionPub, challenge, proof.SigClassic, proof.SigPQ) {
		t.Close(true, "signature verification failed")
		return nil, false, protoerr.WrapFatal("handshake.server.v2", protoerr.ErrSignatureInvalid)
	}

	sess, isNew := mgr.Establish(ctx, session.Outcome{
		SessionPub:      proof.SessionPub,
		ProtocolVersion: 2,
		KeyStack:        [][]byte{kPQ, kClassic},
		ClientSide:      false,
	}, t)

	ack := []byte{byte(wire.TagHandshake), wire.HSServerFinalAck, 0}
	if isNew {
		ack[2] = 1
	}
	_ = t.Send(ack)
	return sess, isNew, nil
}

func runServerV2Unencrypted(ctx context.Context, t transport.Transport, fl *frameLink, mgr Establisher) (*session.Session, bool, error) {
	challenge, err := cryptoprim.RandomBytes(wire.ChallengeSize)
	if err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2u", err)
	}
	frame := wire.Concat([]byte{byte(wire.TagHandshake), wire.HSStepServerHello, wire.ServerHelloModeUnencrypted}, challenge)
	if err := t.Send(frame); err != nil {
		return nil, false, protoerr.Wrap("handshake.server.v2u", err)
	}

	respFrame, err := fl.next(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(respFrame) < 2 || wire.ChannelTag(respFrame[0]) != wire.TagHandshake || respFrame[1] != wire.HSClientResponse {
		t.Close(true, "expected client response")
		return nil, false, protoerr.WrapFatal("handshake.server.v2u", protoerr.ErrUnexpectedFrame)
	}
	proof, err := wire.DecodeSessionProof(respFrame[2:])
	if err != nil {
		t.Close(true, "malformed session proof")
		return nil, false, protoerr.WrapFatal("handshake.server.v2u", protoerr.ErrMalformedOption)
	}
	if !verifySessionProof(proof.SessionPub, challenge, proof.SigClassic, proof.SigPQ) {
		t.Close(true, "signature verification failed")
		return nil, false, protoerr.WrapFatal("handshake.server.v2u", protoerr.ErrSignatureInvalid)
	}

	sess, isNew := mgr.Establish(ctx, session.Outcome{
		SessionPub:      proof.SessionPub,
		ProtocolVersion: 2,
		KeyStack:        nil,
		ClientSide:      false,
	}, t)

	ack := []byte{byte(wire.TagHandshake), wire.HSServerFinalAck, 0}
	if isNew {
		ack[2] = 1
	}
	_ = t.Send(ack)
	return sess, isNew, nil
}
