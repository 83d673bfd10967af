package output

import (
	"fmt"
	"image"
	"sync"
	"time"
)

// Latest keeps the most recently presented frame for snapshots and
// offline extraction
type Latest struct {
	mu       sync.RWMutex
	running  bool
	frame    image.Image
	received time.Time
	count    uint64
}

// NewLatest creates an empty latest-frame holder
func NewLatest() *Latest {
	return &Latest{}
}

// Start enables the holder
func (l *Latest) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = true
	return nil
}

// Stop disables the holder; the last frame stays available
func (l *Latest) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = false
	return nil
}

// WriteFrame replaces the held frame
func (l *Latest) WriteFrame(frame image.Image) error {
	if frame == nil {
		return fmt.Errorf("nil frame")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = frame
	l.received = time.Now()
	l.count++
	return nil
}

// Name returns the output type name
func (l *Latest) Name() string {
	return "Latest Frame"
}

// IsRunning returns true if the holder accepts frames
func (l *Latest) IsRunning() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.running
}

// Frame returns the held frame, when it arrived and how many frames have been
// presented. The image is nil until the first frame.
func (l *Latest) Frame() (image.Image, time.Time, uint64) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frame, l.received, l.count
}
