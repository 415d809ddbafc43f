package wire

import "errors"

var (
	errArity  = errors.New("wire: arity mismatch")
	errBadTag = errors.New("wire: bad or missing record tag")
)
