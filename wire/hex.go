// Package wire provides the byte-level plumbing shared by the handshake
// and session layers: lowercase contiguous hex, plain byte
// concatenation, and the MessagePack-encoded handshake control records.
package wire

import "encoding/hex"

// ToHex lowercases and removes no delimiters by construction: Go's
// encoding/hex already emits contiguous lowercase digits.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FromHex parses a lowercase contiguous hex string back into bytes.
func FromHex(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
