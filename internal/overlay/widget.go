package overlay

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget onto the frame at the configured position
	Render(img *image.RGBA) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	IsEnabled() bool
	SetEnabled(enabled bool)
}

// BaseWidget holds position, opacity and the enabled flag shared by widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	return &BaseWidget{
		id:      id,
		enabled: true,
		x:       x,
		y:       y,
		opacity: clampOpacity(opacity),
	}
}

func (w *BaseWidget) ID() string              { return w.id }
func (w *BaseWidget) IsEnabled() bool         { return w.enabled }
func (w *BaseWidget) SetEnabled(enabled bool) { w.enabled = enabled }
func (w *BaseWidget) GetPosition() (int, int) { return w.x, w.y }
func (w *BaseWidget) GetOpacity() float64     { return w.opacity }

// SetPosition sets the widget's top-left corner
func (w *BaseWidget) SetPosition(x, y int) {
	w.x = x
	w.y = y
}

// SetOpacity sets the widget's opacity, clamped to 0.0..1.0
func (w *BaseWidget) SetOpacity(opacity float64) {
	w.opacity = clampOpacity(opacity)
}

// applyBase reads the common keys from a widget config map
func (w *BaseWidget) applyBase(config map[string]interface{}) {
	if x, ok := getNumber(config["x"]); ok {
		w.x = int(x)
	}
	if y, ok := getNumber(config["y"]); ok {
		w.y = int(y)
	}
	if opacity, ok := getNumber(config["opacity"]); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

// baseConfig returns the common keys for GetConfig
func (w *BaseWidget) baseConfig(widgetType string) map[string]interface{} {
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       w.x,
		"y":       w.y,
		"opacity": w.opacity,
	}
}

func clampOpacity(opacity float64) float64 {
	if opacity < 0.0 {
		return 0.0
	}
	if opacity > 1.0 {
		return 1.0
	}
	return opacity
}

// BlendImage composites src over dst with its top-left corner at (x, y),
// scaling src alpha by opacity. Pixels outside dst are clipped.
func BlendImage(dst *image.RGBA, src image.Image, x, y int, opacity float64) {
	opacity = clampOpacity(opacity)
	if opacity == 0 {
		return
	}
	sb := src.Bounds()
	r := image.Rect(x, y, x+sb.Dx(), y+sb.Dy())
	draw.DrawMask(dst, r, src, sb.Min, opacityMask(opacity), image.Point{}, draw.Over)
}

// DrawRectangle fills a rectangle with c at the given opacity
func DrawRectangle(dst *image.RGBA, x, y, width, height int, c color.Color, opacity float64) {
	opacity = clampOpacity(opacity)
	if opacity == 0 || width <= 0 || height <= 0 {
		return
	}
	r := image.Rect(x, y, x+width, y+height)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, opacityMask(opacity), image.Point{}, draw.Over)
}

func opacityMask(opacity float64) image.Image {
	return image.NewUniform(color.Alpha{A: uint8(opacity*255 + 0.5)})
}

// textBlock renders lines of basicfont text on an optional background and
// returns the block ready for blending
func textBlock(lines []string, fg color.Color, bg *color.RGBA, padding int) *image.RGBA {
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()

	width := 0
	for _, line := range lines {
		if w := font.MeasureString(face, line).Ceil(); w > width {
			width = w
		}
	}
	block := image.NewRGBA(image.Rect(0, 0, width+padding*2, lineHeight*len(lines)+padding*2))
	if bg != nil {
		draw.Draw(block, block.Bounds(), image.NewUniform(*bg), image.Point{}, draw.Src)
	}

	d := &font.Drawer{
		Dst:  block,
		Src:  image.NewUniform(fg),
		Face: face,
	}
	ascent := face.Metrics().Ascent.Ceil()
	for i, line := range lines {
		d.Dot = fixed.P(padding, padding+i*lineHeight+ascent)
		d.DrawString(line)
	}
	return block
}
