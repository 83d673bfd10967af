package output

import (
	"fmt"
	"image"
	"sync"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
)

// Renderer draws decorations onto a frame before presentation
type Renderer interface {
	IsEnabled() bool
	Render(img *image.RGBA) error
}

// Fanout is the pipeline's sink: it applies overlays and hands every
// published frame to each running output
type Fanout struct {
	mu      sync.RWMutex
	outputs []Output
	overlay Renderer
	log     zerolog.Logger
	errors  map[string]uint64
}

// NewFanout creates a fanout over the given outputs
func NewFanout(outputs ...Output) *Fanout {
	return &Fanout{
		outputs: outputs,
		log:     *logger.WithComponent("output"),
		errors:  make(map[string]uint64),
	}
}

// Add registers another output
func (f *Fanout) Add(o Output) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs = append(f.outputs, o)
}

// SetOverlay sets the renderer applied to each frame, or nil for none
func (f *Fanout) SetOverlay(r Renderer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlay = r
}

// Outputs returns the registered outputs
func (f *Fanout) Outputs() []Output {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Output(nil), f.outputs...)
}

// Start starts every output, stopping the ones already started on failure
func (f *Fanout) Start() error {
	outputs := f.Outputs()
	for i, o := range outputs {
		if err := o.Start(); err != nil {
			for _, started := range outputs[:i] {
				started.Stop()
			}
			return fmt.Errorf("failed to start %s: %w", o.Name(), err)
		}
		f.log.Info().Str("output", o.Name()).Msg("Output started")
	}
	return nil
}

// Stop stops every output
func (f *Fanout) Stop() {
	for _, o := range f.Outputs() {
		if err := o.Stop(); err != nil {
			f.log.Warn().Err(err).Str("output", o.Name()).Msg("Failed to stop output")
		}
	}
}

// Publish implements frame.Sink. A failing output never blocks the others.
func (f *Fanout) Publish(d *frame.Decoded) {
	if d == nil || d.Image == nil {
		return
	}

	f.mu.RLock()
	outputs := f.outputs
	overlay := f.overlay
	f.mu.RUnlock()

	img := d.Image
	if overlay != nil && overlay.IsEnabled() {
		rgba := ToRGBA(img)
		if err := overlay.Render(rgba); err != nil {
			f.log.Warn().Err(err).Uint64("seq", d.Seq).Msg("Overlay render failed")
		}
		img = rgba
	}

	for _, o := range outputs {
		if !o.IsRunning() {
			continue
		}
		if err := o.WriteFrame(img); err != nil {
			f.recordError(o.Name(), d.Seq, err)
		}
	}
}

// recordError logs the first failure of an output and every 100th after it
func (f *Fanout) recordError(name string, seq uint64, err error) {
	f.mu.Lock()
	f.errors[name]++
	n := f.errors[name]
	f.mu.Unlock()

	if n == 1 || n%100 == 0 {
		f.log.Warn().Err(err).Str("output", name).Uint64("seq", seq).Uint64("failures", n).Msg("Output failed to present frame")
	}
}

// Errors returns the number of failed writes per output
func (f *Fanout) Errors() map[string]uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]uint64, len(f.errors))
	for k, v := range f.errors {
		out[k] = v
	}
	return out
}

// ToRGBA returns a copy of img as *image.RGBA with its origin at (0, 0)
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
