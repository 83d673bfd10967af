package frame

import "errors"

var (
	// ErrCorruptFrame is returned when a delimited frame's bytes are rejected by
	// the container decoder. The frame is dropped; the stream continues.
	ErrCorruptFrame = errors.New("frame: corrupt frame")

	// ErrInvariantViolation is returned when the API is misused, for example
	// consuming more bytes than are buffered.
	ErrInvariantViolation = errors.New("frame: invariant violation")

	// ErrDesynchronized is returned when a delimited scan exceeds the configured
	// bound without finding a frame boundary. The accumulator must be reset.
	ErrDesynchronized = errors.New("frame: stream desynchronized")
)
