package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// The handshake control records of spec.md §4.3 are dynamically typed
// MessagePack arrays in the source protocol. Per spec.md §9's design
// note ("Dynamic-typed MessagePack arrays... must be re-expressed as
// tagged records with fixed positional semantics"), each record below
// is a small Go struct with an explicit Encode/Decode pair instead of
// a reflection-driven struct tag mapping — arity is checked by hand so
// a short or long array is always a non-recoverable decode error.

// InitialPacket is the client's opening record, shared by both
// handshake versions: [1, handshakeVersion, supportedVersions, encryptionMode].
type InitialPacket struct {
	HandshakeVersion  int
	SupportedVersions []int
	EncryptionMode    int
}

func EncodeInitialPacket(p InitialPacket) ([]byte, error) {
	supported := make([]interface{}, len(p.SupportedVersions))
	for i, v := range p.SupportedVersions {
		supported[i] = v
	}
	return msgpack.Marshal([]interface{}{1, p.HandshakeVersion, supported, p.EncryptionMode})
}

func DecodeInitialPacket(data []byte) (*InitialPacket, error) {
	arr, err := decodeArray(data, 4)
	if err != nil {
		return nil, err
	}
	tag, err := asInt(arr[0])
	if err != nil || tag != 1 {
		return nil, fmt.Errorf("wire: initial packet: %w", errBadTag)
	}
	hv, err := asInt(arr[1])
	if err != nil {
		return nil, err
	}
	rawSupported, ok := arr[2].([]interface{})
	if !ok {
		return nil, fmt.Errorf("wire: initial packet: supportedVersions: %w", errBadTag)
	}
	supported := make([]int, len(rawSupported))
	for i, v := range rawSupported {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		supported[i] = int(n)
	}
	mode, err := asInt(arr[3])
	if err != nil {
		return nil, err
	}
	return &InitialPacket{
		HandshakeVersion:  int(hv),
		SupportedVersions: supported,
		EncryptionMode:    int(mode),
	}, nil
}

// EncodeVersionMismatch encodes the bare supported-version list sent
// back when the server cannot satisfy the client's handshakeVersion.
func EncodeVersionMismatch(supported []int) ([]byte, error) {
	list := make([]interface{}, len(supported))
	for i, v := range supported {
		list[i] = v
	}
	return msgpack.Marshal(list)
}

func DecodeVersionMismatch(data []byte) ([]int, error) {
	var raw []interface{}
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]int, len(raw))
	for i, v := range raw {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		out[i] = int(n)
	}
	return out, nil
}

// V1ServerHello is step 2 of the legacy handshake:
// [2, hex(ephPQpub), hex(sigClassic ∥ F311 ∥ sigPQ), hex(classicRootPub ∥ pqRootPub)].
type V1ServerHello struct {
	EphPQPubHex string
	SigHex      string
	RootPubHex  string
}

func EncodeV1ServerHello(v V1ServerHello) ([]byte, error) {
	return msgpack.Marshal([]interface{}{2, v.EphPQPubHex, v.SigHex, v.RootPubHex})
}

func DecodeV1ServerHello(data []byte) (*V1ServerHello, error) {
	arr, err := decodeArray(data, 4)
	if err != nil {
		return nil, err
	}
	if err := expectTag(arr[0], 2); err != nil {
		return nil, err
	}
	eph, err := asString(arr[1])
	if err != nil {
		return nil, err
	}
	sig, err := asString(arr[2])
	if err != nil {
		return nil, err
	}
	root, err := asString(arr[3])
	if err != nil {
		return nil, err
	}
	return &V1ServerHello{EphPQPubHex: eph, SigHex: sig, RootPubHex: root}, nil
}

// V1ClientKEM is step 3: [3, hex(kyberCT)].
type V1ClientKEM struct {
	KyberCTHex string
}

func EncodeV1ClientKEM(v V1ClientKEM) ([]byte, error) {
	return msgpack.Marshal([]interface{}{3, v.KyberCTHex})
}

func DecodeV1ClientKEM(data []byte) (*V1ClientKEM, error) {
	arr, err := decodeArray(data, 2)
	if err != nil {
		return nil, err
	}
	if err := expectTag(arr[0], 3); err != nil {
		return nil, err
	}
	ct, err := asString(arr[1])
	if err != nil {
		return nil, err
	}
	return &V1ClientKEM{KyberCTHex: ct}, nil
}

// V1ServerChallenge is step 4: [4, randomString(64)]. This record is
// itself transmitted inside an AES envelope keyed by kPQ.
type V1ServerChallenge struct {
	Random string
}

func EncodeV1ServerChallenge(v V1ServerChallenge) ([]byte, error) {
	return msgpack.Marshal([]interface{}{4, v.Random})
}

func DecodeV1ServerChallenge(data []byte) (*V1ServerChallenge, error) {
	arr, err := decodeArray(data, 2)
	if err != nil {
		return nil, err
	}
	if err := expectTag(arr[0], 4); err != nil {
		return nil, err
	}
	r, err := asString(arr[1])
	if err != nil {
		return nil, err
	}
	return &V1ServerChallenge{Random: r}, nil
}

// V1ClientSessionProof is step 5:
// [5, hex(sessionPub), hex(sigClassic ∥ F311 ∥ sigPQ)].
type V1ClientSessionProof struct {
	SessionPubHex string
	SigHex        string
}

func EncodeV1ClientSessionProof(v V1ClientSessionProof) ([]byte, error) {
	return msgpack.Marshal([]interface{}{5, v.SessionPubHex, v.SigHex})
}

func DecodeV1ClientSessionProof(data []byte) (*V1ClientSessionProof, error) {
	arr, err := decodeArray(data, 3)
	if err != nil {
		return nil, err
	}
	if err := expectTag(arr[0], 5); err != nil {
		return nil, err
	}
	sp, err := asString(arr[1])
	if err != nil {
		return nil, err
	}
	sig, err := asString(arr[2])
	if err != nil {
		return nil, err
	}
	return &V1ClientSessionProof{SessionPubHex: sp, SigHex: sig}, nil
}

// V1ServerAck is step 6: [6, newSession].
type V1ServerAck struct {
	NewSession bool
}

func EncodeV1ServerAck(v V1ServerAck) ([]byte, error) {
	return msgpack.Marshal([]interface{}{6, v.NewSession})
}

func DecodeV1ServerAck(data []byte) (*V1ServerAck, error) {
	arr, err := decodeArray(data, 2)
	if err != nil {
		return nil, err
	}
	if err := expectTag(arr[0], 6); err != nil {
		return nil, err
	}
	b, err := asBool(arr[1])
	if err != nil {
		return nil, err
	}
	return &V1ServerAck{NewSession: b}, nil
}

func decodeArray(data []byte, wantLen int) ([]interface{}, error) {
	var arr []interface{}
	if err := msgpack.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("wire: decode msgpack array: %w", err)
	}
	if len(arr) != wantLen {
		return nil, fmt.Errorf("wire: array arity %d, want %d: %w", len(arr), wantLen, errArity)
	}
	return arr, nil
}

func expectTag(v interface{}, want int64) error {
	got, err := asInt(v)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("wire: record tag %d, want %d: %w", got, want, errBadTag)
	}
	return nil
}

func asInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int8:
		return int64(n), nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("wire: expected integer, got %T: %w", v, errBadTag)
	}
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("wire: expected string, got %T: %w", v, errBadTag)
	}
	return s, nil
}

func asBool(v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("wire: expected bool, got %T: %w", v, errBadTag)
	}
	return b, nil
}
