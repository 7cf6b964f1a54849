package memory

import "errors"

var (
	ErrIndexOutOfRange      = errors.New("period index out of range")
	ErrInsufficientSamples  = errors.New("not enough transitions in replay memory")
	ErrShapeMismatch        = errors.New("shape mismatch")
	ErrInvalidInitialWeight = errors.New("invalid initial allocation")
)
