package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RawFrame is one complete, undecoded frame. It owns its bytes.
type RawFrame []byte

// Extractor finds complete frames in an accumulator. ExtractAll consumes the
// bytes of every frame it returns and leaves any trailing partial frame in
// place. Frames found before an error are still returned.
type Extractor interface {
	ExtractAll(acc *Accumulator) ([]RawFrame, error)

	// Reset clears scan state; call it whenever the accumulator is reset
	Reset()

	// Discarded returns the number of non-frame bytes dropped while resyncing
	Discarded() uint64
}

// NewExtractor returns the extractor for the spec's mode
func NewExtractor(spec Spec) (Extractor, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.Mode {
	case ModeFixed:
		return &fixedExtractor{length: spec.FrameLength()}, nil
	case ModeMarkers:
		return &markerExtractor{
			start: clone(spec.StartMarker),
			end:   clone(spec.EndMarker),
			max:   spec.maxUnresolved(),
		}, nil
	case ModeLengthPrefix:
		return &lengthExtractor{
			start:       clone(spec.StartMarker),
			lengthBytes: spec.LengthBytes,
			order:       spec.ByteOrder,
			max:         spec.maxUnresolved(),
		}, nil
	}
	return nil, fmt.Errorf("unknown frame mode: %q", spec.Mode)
}

// fixedExtractor slices constant-length frames off the front of the buffer
type fixedExtractor struct {
	length int
}

func (e *fixedExtractor) ExtractAll(acc *Accumulator) ([]RawFrame, error) {
	var frames []RawFrame
	for acc.Len() >= e.length {
		raw := make(RawFrame, e.length)
		copy(raw, acc.Peek(e.length))
		if err := acc.Consume(e.length); err != nil {
			return frames, err
		}
		frames = append(frames, raw)
	}
	return frames, nil
}

func (e *fixedExtractor) Reset() {}

func (e *fixedExtractor) Discarded() uint64 { return 0 }

// markerExtractor emits spans from a start marker through the next end marker,
// markers included
type markerExtractor struct {
	start []byte
	end   []byte
	max   int

	// endFrom is where the end marker search resumes, relative to a start
	// marker sitting at the head of the accumulator
	endFrom   int
	discarded uint64
}

func (e *markerExtractor) ExtractAll(acc *Accumulator) ([]RawFrame, error) {
	var frames []RawFrame
	for {
		data := acc.Bytes()
		if len(data) == 0 {
			return frames, nil
		}

		ok, err := e.seekStart(acc)
		if err != nil || !ok {
			return frames, err
		}
		data = acc.Bytes()

		from := len(e.start)
		if e.endFrom > from {
			from = e.endFrom
		}
		i := bytes.Index(data[from:], e.end)
		if i < 0 {
			if len(data) >= e.max {
				return frames, fmt.Errorf("%w: %d bytes after start marker without end marker", ErrDesynchronized, len(data))
			}
			// Part of the end marker may already be buffered
			e.endFrom = len(data) - len(e.end) + 1
			return frames, nil
		}

		n := from + i + len(e.end)
		raw := make(RawFrame, n)
		copy(raw, data[:n])
		if err := acc.Consume(n); err != nil {
			return frames, err
		}
		e.endFrom = 0
		frames = append(frames, raw)
	}
}

// seekStart drops bytes preceding the next start marker. It reports false when
// no complete start marker is buffered yet.
func (e *markerExtractor) seekStart(acc *Accumulator) (bool, error) {
	data := acc.Bytes()
	i := bytes.Index(data, e.start)
	if i < 0 {
		e.endFrom = 0
		// Keep a tail that could be the beginning of a split marker
		if drop := len(data) - (len(e.start) - 1); drop > 0 {
			e.discarded += uint64(drop)
			return false, acc.Consume(drop)
		}
		return false, nil
	}
	if i > 0 {
		e.endFrom = 0
		e.discarded += uint64(i)
		if err := acc.Consume(i); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *markerExtractor) Reset() {
	e.endFrom = 0
}

func (e *markerExtractor) Discarded() uint64 { return e.discarded }

// lengthExtractor reads an optional start marker, then a length header, then
// that many payload bytes
type lengthExtractor struct {
	start       []byte
	lengthBytes int
	order       binary.ByteOrder
	max         int

	discarded uint64
}

func (e *lengthExtractor) ExtractAll(acc *Accumulator) ([]RawFrame, error) {
	var frames []RawFrame
	for {
		data := acc.Bytes()
		if len(data) == 0 {
			return frames, nil
		}

		header := 0
		if len(e.start) > 0 {
			ok, err := e.seekStart(acc)
			if err != nil || !ok {
				return frames, err
			}
			data = acc.Bytes()
			header = len(e.start)
		}

		if len(data) < header+e.lengthBytes {
			return frames, nil
		}
		size := e.readLength(data[header : header+e.lengthBytes])
		if size > uint64(e.max) {
			if len(e.start) == 0 {
				return frames, fmt.Errorf("%w: declared frame length %d exceeds %d", ErrDesynchronized, size, e.max)
			}
			// Not a real header; step over this marker and rescan
			e.discarded++
			if err := acc.Consume(1); err != nil {
				return frames, err
			}
			continue
		}

		payload := header + e.lengthBytes
		total := payload + int(size)
		if len(data) < total {
			return frames, nil
		}
		raw := make(RawFrame, int(size))
		copy(raw, data[payload:total])
		if err := acc.Consume(total); err != nil {
			return frames, err
		}
		frames = append(frames, raw)
	}
}

func (e *lengthExtractor) seekStart(acc *Accumulator) (bool, error) {
	data := acc.Bytes()
	i := bytes.Index(data, e.start)
	if i < 0 {
		if drop := len(data) - (len(e.start) - 1); drop > 0 {
			e.discarded += uint64(drop)
			return false, acc.Consume(drop)
		}
		return false, nil
	}
	if i > 0 {
		e.discarded += uint64(i)
		if err := acc.Consume(i); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *lengthExtractor) readLength(b []byte) uint64 {
	switch e.lengthBytes {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(e.order.Uint16(b))
	case 4:
		return uint64(e.order.Uint32(b))
	default:
		return e.order.Uint64(b)
	}
}

func (e *lengthExtractor) Reset() {}

func (e *lengthExtractor) Discarded() uint64 { return e.discarded }
