package output

import (
	"image"
)

// Output is a presentation target for decoded frames:
// - MJPEG HTTP stream
// - X11 preview window
// - latest-frame holder for snapshots
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame presents one frame. Frames are never reused after
	// publication, so outputs may keep a reference.
	WriteFrame(frame image.Image) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	Width   int
	Height  int
	Quality int
}
