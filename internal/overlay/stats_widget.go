package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bryanchriswhite/feedview/internal/frame"
)

// StatsFunc returns the current pipeline counters
type StatsFunc func() frame.Stats

// StatsWidget shows live pipeline counters on the frame
type StatsWidget struct {
	*BaseWidget
	stats        StatsFunc
	label        string
	showBuffered bool
	textColor    color.RGBA
	bgColor      color.RGBA
	padding      int
}

// NewStatsWidget creates a stats widget reading counters from stats
func NewStatsWidget(id string, stats StatsFunc, config map[string]interface{}) (*StatsWidget, error) {
	if stats == nil {
		return nil, fmt.Errorf("stats widget requires a stats source")
	}
	w := &StatsWidget{
		BaseWidget: NewBaseWidget(id, 8, 8, 0.9),
		stats:      stats,
		textColor:  color.RGBA{78, 201, 176, 255},
		bgColor:    color.RGBA{30, 30, 40, 220},
		padding:    6,
	}
	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}
	return w, nil
}

// Type returns the widget type
func (w *StatsWidget) Type() string {
	return "stats"
}

// Lines returns the text the widget draws
func (w *StatsWidget) Lines() []string {
	s := w.stats()
	lines := []string{
		fmt.Sprintf("%d frames  %.1f fps", s.FramesPublished, s.FPS),
		fmt.Sprintf("corrupt %d  desync %d", s.FramesCorrupt, s.Desyncs),
	}
	if w.showBuffered {
		lines = append(lines, fmt.Sprintf("buffered %d B  dropped %d B", s.Buffered, s.DiscardedBytes))
	}
	if w.label != "" {
		lines = append([]string{w.label}, lines...)
	}
	return lines
}

// Render draws the counters
func (w *StatsWidget) Render(img *image.RGBA) error {
	if !w.IsEnabled() {
		return nil
	}
	bg := w.bgColor
	block := textBlock(w.Lines(), w.textColor, &bg, w.padding)
	BlendImage(img, block, w.x, w.y, w.opacity)
	return nil
}

// GetConfig returns the widget configuration
func (w *StatsWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["label"] = w.label
	config["show_buffered"] = w.showBuffered
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)
	config["background"] = colorConfig(w.bgColor)
	return config
}

// UpdateConfig updates the widget configuration
func (w *StatsWidget) UpdateConfig(config map[string]interface{}) error {
	w.applyBase(config)

	if label, ok := config["label"].(string); ok {
		w.label = label
	}
	if show, ok := config["show_buffered"].(bool); ok {
		w.showBuffered = show
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
		w.bgColor = c
	}
	return nil
}
