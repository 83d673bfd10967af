package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"
)

// TextWidget displays static text, one line per "\n"
type TextWidget struct {
	*BaseWidget
	text      string
	textColor color.RGBA
	bgColor   *color.RGBA // nil for transparent
	padding   int
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		text:       "Text Widget",
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Render draws the text widget
func (w *TextWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}
	block := textBlock(strings.Split(w.text, "\n"), w.textColor, w.bgColor, w.padding)
	BlendImage(img, block, w.x, w.y, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["text"] = w.text
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}
	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyBase(config)

	if text, ok := config["text"].(string); ok {
		w.text = text
	}
	if padding, ok := getNumber(config["padding"]); ok {
		if padding < 0 {
			return fmt.Errorf("padding must not be negative")
		}
		w.padding = int(padding)
	}
	if c, ok := getColor(config["color"]); ok {
		w.textColor = c
	}
	if c, ok := getColor(config["background"]); ok {
		w.bgColor = &c
	}
	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	return w.text
}
