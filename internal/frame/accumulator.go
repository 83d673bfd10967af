package frame

import "fmt"

// Accumulator buffers bytes received from the decoder until they resolve into
// complete frames. It is owned by one pipeline and is not safe for concurrent
// use.
type Accumulator struct {
	buf []byte
	off int // start of unconsumed data within buf
}

// NewAccumulator creates an accumulator with the given initial capacity
func NewAccumulator(capacity int) *Accumulator {
	if capacity < 0 {
		capacity = 0
	}
	return &Accumulator{buf: make([]byte, 0, capacity)}
}

// Append adds p to the end of the buffer
func (a *Accumulator) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	// Reclaim the consumed prefix before growing
	if a.off > 0 && cap(a.buf)-len(a.buf) < len(p) {
		n := copy(a.buf, a.buf[a.off:])
		a.buf = a.buf[:n]
		a.off = 0
	}
	a.buf = append(a.buf, p...)
}

// Len returns the number of unconsumed bytes
func (a *Accumulator) Len() int {
	return len(a.buf) - a.off
}

// Bytes returns a view of all unconsumed bytes. The view is only valid until
// the next Append, Consume or Reset.
func (a *Accumulator) Bytes() []byte {
	return a.buf[a.off:]
}

// Peek returns a view of at most n leading bytes without consuming them
func (a *Accumulator) Peek(n int) []byte {
	if n < 0 {
		n = 0
	}
	if n > a.Len() {
		n = a.Len()
	}
	return a.buf[a.off : a.off+n]
}

// Consume removes the first n bytes
func (a *Accumulator) Consume(n int) error {
	if n < 0 || n > a.Len() {
		return fmt.Errorf("%w: consume %d bytes with %d buffered", ErrInvariantViolation, n, a.Len())
	}
	a.off += n
	if a.off == len(a.buf) {
		a.buf = a.buf[:0]
		a.off = 0
	}
	return nil
}

// Reset discards all buffered bytes
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
	a.off = 0
}
