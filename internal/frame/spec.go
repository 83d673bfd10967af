package frame

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Mode selects how frame boundaries are recognized in the byte stream
type Mode string

const (
	ModeFixed        Mode = "fixed"  // uncompressed frames of constant length
	ModeMarkers      Mode = "marker" // start/end marker delimited containers
	ModeLengthPrefix Mode = "length" // start marker followed by a length header
)

// PixelLayout describes how pixels are interleaved in a raw frame
type PixelLayout string

const (
	LayoutRGB24 PixelLayout = "rgb24"
	LayoutBGR24 PixelLayout = "bgr24"
	LayoutRGBA  PixelLayout = "rgba"
	LayoutBGRA  PixelLayout = "bgra"
	LayoutGray  PixelLayout = "gray"

	// LayoutContainer marks frames whose layout is chosen by the container decoder
	LayoutContainer PixelLayout = "container"
)

// BytesPerPixel returns the pixel size for the layout, or 0 if unknown
func (l PixelLayout) BytesPerPixel() int {
	switch l {
	case LayoutRGB24, LayoutBGR24:
		return 3
	case LayoutRGBA, LayoutBGRA:
		return 4
	case LayoutGray:
		return 1
	default:
		return 0
	}
}

// ParseLayout parses a layout name such as "rgb24" or "bgra"
func ParseLayout(s string) (PixelLayout, error) {
	l := PixelLayout(strings.ToLower(strings.TrimSpace(s)))
	if l.BytesPerPixel() == 0 {
		return "", fmt.Errorf("unknown pixel layout: %q", s)
	}
	return l, nil
}

// DefaultMaxUnresolved bounds the unresolved tail in delimited modes
const DefaultMaxUnresolved = 16 << 20

// Spec describes how to recognize one complete frame. A Spec is fixed for the
// lifetime of a pipeline; changing resolution or mode means a new pipeline.
type Spec struct {
	Mode Mode

	// Fixed mode
	Width         int
	Height        int
	BytesPerPixel int
	Layout        PixelLayout

	// Delimited modes
	StartMarker []byte
	EndMarker   []byte
	LengthBytes int
	ByteOrder   binary.ByteOrder

	// MaxUnresolved is the largest unresolved span tolerated before the
	// extractor reports ErrDesynchronized. Zero means DefaultMaxUnresolved.
	MaxUnresolved int
}

// FixedSize returns a spec for uncompressed frames of width*height pixels
func FixedSize(width, height int, layout PixelLayout) Spec {
	return Spec{
		Mode:          ModeFixed,
		Width:         width,
		Height:        height,
		BytesPerPixel: layout.BytesPerPixel(),
		Layout:        layout,
	}
}

// Markers returns a spec for frames bracketed by start and end markers
func Markers(start, end []byte) Spec {
	return Spec{
		Mode:        ModeMarkers,
		StartMarker: clone(start),
		EndMarker:   clone(end),
		Layout:      LayoutContainer,
	}
}

// LengthPrefixed returns a spec for frames introduced by an optional start
// marker and a lengthBytes-wide payload length in the given byte order
func LengthPrefixed(start []byte, lengthBytes int, order binary.ByteOrder) Spec {
	return Spec{
		Mode:        ModeLengthPrefix,
		StartMarker: clone(start),
		LengthBytes: lengthBytes,
		ByteOrder:   order,
		Layout:      LayoutContainer,
	}
}

// JPEG markers: start-of-image and end-of-image
var (
	JPEGStart = []byte{0xFF, 0xD8}
	JPEGEnd   = []byte{0xFF, 0xD9}
)

// FrameLength returns the byte length of one fixed-size frame, or 0 for
// delimited modes where the length is discovered per frame
func (s Spec) FrameLength() int {
	if s.Mode != ModeFixed {
		return 0
	}
	return s.Width * s.Height * s.BytesPerPixel
}

// maxUnresolved returns the effective desync bound
func (s Spec) maxUnresolved() int {
	if s.MaxUnresolved > 0 {
		return s.MaxUnresolved
	}
	return DefaultMaxUnresolved
}

// Validate checks the spec for internal consistency
func (s Spec) Validate() error {
	switch s.Mode {
	case ModeFixed:
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("invalid frame size %dx%d", s.Width, s.Height)
		}
		want := s.Layout.BytesPerPixel()
		if want == 0 {
			return fmt.Errorf("fixed mode requires a pixel layout, got %q", s.Layout)
		}
		if s.BytesPerPixel != want {
			return fmt.Errorf("bytes per pixel %d does not match layout %s (%d)", s.BytesPerPixel, s.Layout, want)
		}
	case ModeMarkers:
		if len(s.StartMarker) == 0 || len(s.EndMarker) == 0 {
			return fmt.Errorf("marker mode requires start and end markers")
		}
	case ModeLengthPrefix:
		switch s.LengthBytes {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("length header must be 1, 2, 4 or 8 bytes, got %d", s.LengthBytes)
		}
		if s.LengthBytes > 1 && s.ByteOrder == nil {
			return fmt.Errorf("length header requires a byte order")
		}
	default:
		return fmt.Errorf("unknown frame mode: %q", s.Mode)
	}
	if s.MaxUnresolved < 0 {
		return fmt.Errorf("max unresolved must not be negative")
	}
	return nil
}

// String describes the spec for logs
func (s Spec) String() string {
	switch s.Mode {
	case ModeFixed:
		return fmt.Sprintf("fixed %dx%d %s (%d bytes)", s.Width, s.Height, s.Layout, s.FrameLength())
	case ModeMarkers:
		return fmt.Sprintf("marker start=%x end=%x", s.StartMarker, s.EndMarker)
	case ModeLengthPrefix:
		return fmt.Sprintf("length start=%x header=%d", s.StartMarker, s.LengthBytes)
	default:
		return string(s.Mode)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
