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

// Package cryptoprim is the crypto primitives facade consumed by the
// handshake and session layers: Kyber-1024 KEM, Dilithium-5 signatures,
// X25519 DH, Ed25519 signatures, AES-GCM, SHA-256/512, and strong
// randomness. No key material is ever logged or stringified: none of
// the types here implement fmt.Stringer.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"github.com/cloudflare/circl/sign/dilithium/mode5"
)

// RandomBytes returns n cryptographically strong random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("cryptoprim: random bytes: %w", err)
	}
	return b, nil
}

// SHA256 returns the SHA-256 digest of data.
func SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// SHA512 returns the SHA-512 digest of data.
func SHA512(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// --- Kyber-1024 KEM -------------------------------------------------

// KyberPublicKeySize, KyberCiphertextSize and KyberSharedKeySize are
// exactly the sizes spec.md §4.3.2/§4.3.3 fix for `kyberPub(1568)` and
// `kyberCT(1568)`.
const (
	KyberPublicKeySize  = kyber1024.PublicKeySize
	KyberPrivateKeySize = kyber1024.PrivateKeySize
	KyberCiphertextSize = kyber1024.CiphertextSize
	KyberSharedKeySize  = kyber1024.SharedKeySize
)

// GenerateKyber1024 creates a fresh Kyber-1024 KEM keypair.
func GenerateKyber1024() (pub *kyber1024.PublicKey, priv *kyber1024.PrivateKey, err error) {
	pk, sk, err := kyber1024.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: kyber1024 keygen: %w", err)
	}
	return pk, sk, nil
}

// PackKyberPublicKey serializes pub to its raw 1568-byte wire form.
func PackKyberPublicKey(pub *kyber1024.PublicKey) []byte {
	buf := make([]byte, KyberPublicKeySize)
	pub.Pack(buf)
	return buf
}

// UnpackKyberPublicKey parses a raw Kyber-1024 public key.
func UnpackKyberPublicKey(raw []byte) (*kyber1024.PublicKey, error) {
	if len(raw) != KyberPublicKeySize {
		return nil, fmt.Errorf("cryptoprim: kyber1024 public key: want %d bytes, got %d", KyberPublicKeySize, len(raw))
	}
	pk := new(kyber1024.PublicKey)
	pk.Unpack(raw)
	return pk, nil
}

// KyberEncapsulate encapsulates to pub, returning the ciphertext and
// the 32-byte shared secret.
func KyberEncapsulate(pub *kyber1024.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	ct := make([]byte, kyber1024.CiphertextSize)
	ss := make([]byte, kyber1024.SharedKeySize)
	seed := make([]byte, kyber1024.EncapsulationSeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: kyber1024 encapsulate seed: %w", err)
	}
	pub.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}

// KyberDecapsulate recovers the shared secret from ciphertext using priv.
func KyberDecapsulate(priv *kyber1024.PrivateKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != kyber1024.CiphertextSize {
		return nil, fmt.Errorf("cryptoprim: kyber1024 ciphertext: want %d bytes, got %d", kyber1024.CiphertextSize, len(ciphertext))
	}
	ss := make([]byte, kyber1024.SharedKeySize)
	priv.DecapsulateTo(ss, ciphertext)
	return ss, nil
}

// --- Dilithium-5 signatures ------------------------------------------

// DilithiumPublicKeySize and DilithiumSignatureSize are why spec.md's
// sessionPub is exactly 2624 bytes (32-byte Ed25519 public key plus a
// 2592-byte Dilithium-5 public key) and why sigPQ is fixed at 4595 bytes.
const (
	DilithiumPublicKeySize  = mode5.PublicKeySize
	DilithiumPrivateKeySize = mode5.PrivateKeySize
	DilithiumSignatureSize  = mode5.SignatureSize
)

// GenerateDilithium5 creates a fresh Dilithium-5 signing keypair.
func GenerateDilithium5() (pub *mode5.PublicKey, priv *mode5.PrivateKey, err error) {
	pk, sk, err := mode5.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: dilithium5 keygen: %w", err)
	}
	return pk, sk, nil
}

// PackDilithiumPublicKey serializes pub to its raw 2592-byte wire form.
func PackDilithiumPublicKey(pub *mode5.PublicKey) []byte {
	buf := make([]byte, DilithiumPublicKeySize)
	pub.Pack(buf)
	return buf
}

// UnpackDilithiumPublicKey parses a raw Dilithium-5 public key.
func UnpackDilithiumPublicKey(raw []byte) (*mode5.PublicKey, error) {
	if len(raw) != DilithiumPublicKeySize {
		return nil, fmt.Errorf("cryptoprim: dilithium5 public key: want %d bytes, got %d", DilithiumPublicKeySize, len(raw))
	}
	pk := new(mode5.PublicKey)
	pk.Unpack(raw)
	return pk, nil
}

// DilithiumSign signs message with priv, returning a 4595-byte signature.
func DilithiumSign(priv *mode5.PrivateKey, message []byte) []byte {
	sig := make([]byte, mode5.SignatureSize)
	mode5.SignTo(priv, message, sig)
	return sig
}

// DilithiumVerify verifies sig over message under pub.
func DilithiumVerify(pub *mode5.PublicKey, message, sig []byte) bool {
	return mode5.Verify(pub, message, sig)
}

// --- X25519 -----------------------------------------------------------

// X25519KeyPair is an ephemeral Diffie-Hellman keypair.
type X25519KeyPair struct {
	priv *ecdh.PrivateKey
	pub  *ecdh.PublicKey
}

// GenerateX25519 creates a fresh ephemeral X25519 keypair.
func GenerateX25519() (*X25519KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: x25519 keygen: %w", err)
	}
	return &X25519KeyPair{priv: priv, pub: priv.PublicKey()}, nil
}

// PublicBytes returns the 32-byte X25519 public key.
func (kp *X25519KeyPair) PublicBytes() []byte { return kp.pub.Bytes() }

// DH computes the X25519 shared secret with a peer's raw public key bytes.
func (kp *X25519KeyPair) DH(peerPub []byte) ([]byte, error) {
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: x25519 peer public key: %w", err)
	}
	shared, err := kp.priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: x25519 ecdh: %w", err)
	}
	return shared, nil
}

// --- Ed25519 ------------------------------------------------------------

// GenerateEd25519 creates a fresh Ed25519 signing keypair.
func GenerateEd25519() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptoprim: ed25519 keygen: %w", err)
	}
	return pub, priv, nil
}

// Ed25519Sign signs message with priv.
func Ed25519Sign(priv ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(priv, message)
}

// Ed25519Verify verifies sig over message under pub.
func Ed25519Verify(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}

// --- AES-GCM -------------------------------------------------------------

const (
	ivSize     = 16
	digestSize = sha256.Size
)

// AESEncrypt seals plain under key with AES-GCM and returns
//
//	iv(16) ∥ ciphertext_with_tag
//
// When withIntegrityDigest is set, sha256(plain)(32) is prepended to
// plain before sealing, so the digest travels inside the ciphertext;
// it is not carried in clear between the iv and the ciphertext.
// The IV is fresh random per call; the AES-GCM tag is 128 bits.
func AESEncrypt(plain, key []byte, withIntegrityDigest bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes-gcm: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("cryptoprim: aes-gcm iv: %w", err)
	}

	inner := plain
	if withIntegrityDigest {
		digest := SHA256(plain)
		inner = append(append([]byte{}, digest...), plain...)
	}
	ct := gcm.Seal(nil, iv, inner, nil)

	out := make([]byte, 0, ivSize+len(ct))
	out = append(out, iv...)
	out = append(out, ct...)
	return out, nil
}

// AESDecrypt reverses AESEncrypt. When withIntegrityDigest is set, the
// embedded SHA-256 is verified against the decrypted plaintext and the
// function fails closed on mismatch.
func AESDecrypt(envelope, key []byte, withIntegrityDigest bool) ([]byte, error) {
	if len(envelope) < ivSize {
		return nil, fmt.Errorf("cryptoprim: aes-gcm envelope shorter than iv")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes-gcm: %w", err)
	}
	iv := envelope[:ivSize]
	ct := envelope[ivSize:]
	inner, err := gcm.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoprim: aes-gcm open: %w", err)
	}

	if !withIntegrityDigest {
		return inner, nil
	}
	if len(inner) < digestSize {
		return nil, fmt.Errorf("cryptoprim: aes-gcm plaintext shorter than digest")
	}
	digest := inner[:digestSize]
	plain := inner[digestSize:]
	want := SHA256(plain)
	if !constantTimeEqual(digest, want) {
		return nil, fmt.Errorf("cryptoprim: integrity digest mismatch")
	}
	return plain, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
