package contract

import "errors"

var (
	// ErrConfig reports malformed contract metadata, raised at build time.
	ErrConfig = errors.New("contract: configuration error")
	// ErrArgCount reports a positional argument count that does not match the method.
	ErrArgCount = errors.New("contract: argument count mismatch")
	// ErrArgType reports a system argument of the wrong type.
	ErrArgType = errors.New("contract: argument type mismatch")
	// ErrEnvelope reports an envelope that cannot be decoded.
	ErrEnvelope = errors.New("contract: malformed envelope")
)
