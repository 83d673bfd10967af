package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func changed(img *image.RGBA) bool {
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] != 0 || img.Pix[i+1] != 0 || img.Pix[i+2] != 0 {
			return true
		}
	}
	return false
}

func fixedStats() frame.Stats {
	return frame.Stats{FramesPublished: 42, FPS: 29.97, FramesCorrupt: 1, Desyncs: 2, Buffered: 100, DiscardedBytes: 7}
}

func TestBlendImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	dst := blank(4, 4)
	BlendImage(dst, src, 1, 1, 1.0)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, dst.RGBAAt(1, 1))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, dst.RGBAAt(0, 0))

	half := blank(4, 4)
	BlendImage(half, src, 0, 0, 0.5)
	assert.InDelta(t, 128, int(half.RGBAAt(0, 0).R), 2)

	// Clipped at the edges without panicking
	edge := blank(4, 4)
	BlendImage(edge, src, 3, 3, 1.0)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, edge.RGBAAt(3, 3))

	none := blank(4, 4)
	BlendImage(none, src, 0, 0, 0)
	assert.False(t, changed(none))
}

func TestDrawRectangle(t *testing.T) {
	dst := blank(6, 6)
	DrawRectangle(dst, 1, 1, 2, 2, color.RGBA{0, 255, 0, 255}, 1.0)
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, dst.RGBAAt(2, 2))
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, dst.RGBAAt(3, 3))
}

func TestTextWidget(t *testing.T) {
	w, err := NewTextWidget("title", map[string]interface{}{
		"text":       "cam 1",
		"x":          2,
		"y":          float64(3),
		"opacity":    1.0,
		"background": map[string]interface{}{"r": 10, "g": 10, "b": 10},
	})
	require.NoError(t, err)
	assert.Equal(t, "text", w.Type())
	x, y := w.GetPosition()
	assert.Equal(t, 2, x)
	assert.Equal(t, 3, y)

	img := blank(80, 30)
	require.NoError(t, w.Render(img))
	assert.True(t, changed(img))

	cfg := w.GetConfig()
	assert.Equal(t, "cam 1", cfg["text"])
	assert.Equal(t, "title", cfg["id"])
	assert.Contains(t, cfg, "background")

	_, err = NewTextWidget("bad", map[string]interface{}{"padding": -1})
	assert.Error(t, err)
}

func TestStatsWidget(t *testing.T) {
	w, err := NewStatsWidget("stats", fixedStats, map[string]interface{}{"label": "feed", "show_buffered": true})
	require.NoError(t, err)

	lines := w.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "feed", lines[0])
	assert.Equal(t, "42 frames  30.0 fps", lines[1])
	assert.Equal(t, "corrupt 1  desync 2", lines[2])
	assert.Equal(t, "buffered 100 B  dropped 7 B", lines[3])

	img := blank(200, 80)
	require.NoError(t, w.Render(img))
	assert.True(t, changed(img))

	_, err = NewStatsWidget("nostats", nil, nil)
	assert.Error(t, err)
}

func TestManager_LoadAndRender(t *testing.T) {
	m := NewManager(fixedStats)
	assert.False(t, m.IsEnabled(), "no widgets to draw")

	added := m.LoadFromConfig([]map[string]interface{}{
		{"type": "text", "id": "b-label", "text": "hello"},
		{"type": "stats", "id": "a-stats"},
		{"type": "clock", "id": "unknown"},
		{"id": "missing-type"},
		{"type": "text"},
	})
	assert.Equal(t, 2, added)
	assert.True(t, m.IsEnabled())

	widgets := m.GetAllWidgets()
	require.Len(t, widgets, 2)
	assert.Equal(t, "a-stats", widgets[0].ID())

	img := blank(200, 100)
	require.NoError(t, m.Render(img))
	assert.True(t, changed(img))

	assert.Error(t, m.AddWidget(widgets[0]), "duplicate id")
	require.NoError(t, m.UpdateWidget("b-label", map[string]interface{}{"enabled": false}))
	assert.Error(t, m.UpdateWidget("nope", nil))

	exported := m.ExportConfig()
	require.Len(t, exported, 2)
	assert.Equal(t, false, exported[1]["enabled"])

	m.SetEnabled(false)
	assert.False(t, m.IsEnabled())
	disabled := blank(200, 100)
	require.NoError(t, m.Render(disabled))
	assert.False(t, changed(disabled))

	require.NoError(t, m.RemoveWidget("a-stats"))
	assert.Error(t, m.RemoveWidget("a-stats"))
	m.Clear()
	assert.Empty(t, m.GetAllWidgets())
	assert.Len(t, m.GetAvailableWidgetTypes(), 2)
}
