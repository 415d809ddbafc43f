package wire

import "fmt"

// The v2 handshake frames (spec.md §4.3.2-§4.3.3, byte layout fixed in
// §6) are raw concatenated binary, unlike the msgpack-encoded v1 and
// initial-packet records above. These sizes are the wire contract, not
// implementation choices — changing any of them breaks interop.
const (
	X25519PubSize  = 32
	KyberPubSize   = 1568
	KyberCTSize    = 1568
	Ed25519SigSize = 64
	SessionPubSize = 2624 // Ed25519 pub(32) ∥ Dilithium5 pub(2592)
	SigPQSize      = 4595
	ChallengeSize  = 64
	SentinelF311   = "\xf3\x11"
)

// V2ServerHelloEncrypted is the server→client `0x02 0x02 0x01` body of
// spec.md §4.3.2/§6: x25519Pub ∥ kyberPub ∥ sigClassic ∥ sigPQ ∥
// challenge ∥ pinMaterial, where pinMaterial is either the 2624-byte root
// public key or its 32-byte SHA-256 depending on the client's requested
// encryptionMode.
type V2ServerHelloEncrypted struct {
	X25519Pub   []byte
	KyberPub    []byte
	SigClassic  []byte
	SigPQ       []byte
	Challenge   []byte
	PinMaterial []byte
}

func EncodeV2ServerHelloEncrypted(v V2ServerHelloEncrypted) ([]byte, error) {
	if len(v.X25519Pub) != X25519PubSize || len(v.KyberPub) != KyberPubSize ||
		len(v.SigClassic) != Ed25519SigSize || len(v.SigPQ) != SigPQSize ||
		len(v.Challenge) != ChallengeSize {
		return nil, fmt.Errorf("wire: v2 server hello: %w", errBadTag)
	}
	return Concat(v.X25519Pub, v.KyberPub, v.SigClassic, v.SigPQ, v.Challenge, v.PinMaterial), nil
}

// DecodeV2ServerHelloEncrypted parses the body following the
// `0x02 0x02 0x01` prefix. pinMaterial is whatever remains, either the
// full 2624-byte root public key or its 32-byte SHA-256, left to the
// caller to disambiguate by length.
func DecodeV2ServerHelloEncrypted(body []byte) (*V2ServerHelloEncrypted, error) {
	want := X25519PubSize + KyberPubSize + Ed25519SigSize + SigPQSize + ChallengeSize
	if len(body) < want {
		return nil, fmt.Errorf("wire: v2 server hello: body %d bytes, want at least %d: %w", len(body), want, errArity)
	}
	off := 0
	next := func(n int) []byte {
		b := body[off : off+n]
		off += n
		return b
	}
	v := &V2ServerHelloEncrypted{
		X25519Pub:  next(X25519PubSize),
		KyberPub:   next(KyberPubSize),
		SigClassic: next(Ed25519SigSize),
		SigPQ:      next(SigPQSize),
		Challenge:  next(ChallengeSize),
	}
	v.PinMaterial = append([]byte{}, body[off:]...)
	return v, nil
}

// V2ClientResponseEncrypted is the client→server `0x02 0x03` body for
// the encrypted v2 flow: x25519Pub ∥ kyberCT ∥ doubly-encrypted signed
// session material. EncryptedSessionProof is opaque here; the
// handshake layer owns the nested AES envelopes.
type V2ClientResponseEncrypted struct {
	X25519Pub             []byte
	KyberCT               []byte
	EncryptedSessionProof []byte
}

func EncodeV2ClientResponseEncrypted(v V2ClientResponseEncrypted) ([]byte, error) {
	if len(v.X25519Pub) != X25519PubSize || len(v.KyberCT) != KyberCTSize {
		return nil, fmt.Errorf("wire: v2 client response: %w", errBadTag)
	}
	return Concat(v.X25519Pub, v.KyberCT, v.EncryptedSessionProof), nil
}

func DecodeV2ClientResponseEncrypted(body []byte) (*V2ClientResponseEncrypted, error) {
	want := X25519PubSize + KyberCTSize
	if len(body) < want {
		return nil, fmt.Errorf("wire: v2 client response: body %d bytes, want at least %d: %w", len(body), want, errArity)
	}
	off := 0
	next := func(n int) []byte {
		b := body[off : off+n]
		off += n
		return b
	}
	v := &V2ClientResponseEncrypted{
		X25519Pub: next(X25519PubSize),
		KyberCT:   next(KyberCTSize),
	}
	v.EncryptedSessionProof = append([]byte{}, body[off:]...)
	return v, nil
}

// SessionProof is the plaintext sessionPub ∥ sigClassic ∥ sigPQ
// material carried inside the v2 encrypted double-AES envelope, or
// bare on the wire in the v2 unencrypted flow.
type SessionProof struct {
	SessionPub []byte
	SigClassic []byte
	SigPQ      []byte
}

func EncodeSessionProof(v SessionProof) ([]byte, error) {
	if len(v.SessionPub) != SessionPubSize || len(v.SigClassic) != Ed25519SigSize || len(v.SigPQ) != SigPQSize {
		return nil, fmt.Errorf("wire: session proof: %w", errBadTag)
	}
	return Concat(v.SessionPub, v.SigClassic, v.SigPQ), nil
}

func DecodeSessionProof(body []byte) (*SessionProof, error) {
	want := SessionPubSize + Ed25519SigSize + SigPQSize
	if len(body) != want {
		return nil, fmt.Errorf("wire: session proof: body %d bytes, want %d: %w", len(body), want, errArity)
	}
	off := 0
	next := func(n int) []byte {
		b := body[off : off+n]
		off += n
		return b
	}
	return &SessionProof{
		SessionPub: next(SessionPubSize),
		SigClassic: next(Ed25519SigSize),
		SigPQ:      next(SigPQSize),
	}, nil
}

// BuildV1CompositeSig concatenates sigClassic ∥ F3 11 ∥ sigPQ. The
// sentinel at bytes 64-65 is a fixed legacy constant (spec.md §9), not
// a length field; preserved exactly for wire compatibility.
func BuildV1CompositeSig(sigClassic, sigPQ []byte) []byte {
	return Concat(sigClassic, []byte(SentinelF311), sigPQ)
}

// SplitV1CompositeSig reverses BuildV1CompositeSig, checking the
// sentinel bytes and returning ErrSentinelMissing-flavored error via
// errBadTag on mismatch so the caller can classify it non-recoverable.
func SplitV1CompositeSig(composite []byte, sigPQSize int) (sigClassic, sigPQ []byte, err error) {
	if len(composite) != Ed25519SigSize+2+sigPQSize {
		return nil, nil, fmt.Errorf("wire: v1 composite sig: length %d: %w", len(composite), errArity)
	}
	sigClassic = composite[:Ed25519SigSize]
	sentinel := composite[Ed25519SigSize : Ed25519SigSize+2]
	sigPQ = composite[Ed25519SigSize+2:]
	if string(sentinel) != SentinelF311 {
		return nil, nil, fmt.Errorf("wire: v1 composite sig: sentinel mismatch: %w", errBadTag)
	}
	return sigClassic, sigPQ, nil
}
