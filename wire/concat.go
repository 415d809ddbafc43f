package wire

import "encoding/binary"

// Concat joins byte slices with zero copies beyond the single
// allocation of the result, mirroring the `a ∥ b ∥ c` notation used
// throughout spec.md §4.
func Concat(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// PutUint32BE appends a 4-byte big-endian encoding of v.
func PutUint32BE(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

// Uint32BE reads a 4-byte big-endian uint32 from the front of b.
func Uint32BE(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, errShortBuffer
	}
	return binary.BigEndian.Uint32(b[:4]), nil
}

var errShortBuffer = shortBufferError{}

type shortBufferError struct{}

func (shortBufferError) Error() string { return "wire: buffer shorter than required field" }
