package overlay

import (
	"image/color"
)

// getNumber reads a numeric config value decoded from YAML (int) or JSON (float64)
func getNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case uint8:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}

// getColor reads a {r, g, b, a} map; a missing alpha means opaque
func getColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	channel := func(key string, def uint8) uint8 {
		n, ok := getNumber(m[key])
		if !ok {
			return def
		}
		if n < 0 {
			return 0
		}
		if n > 255 {
			return 255
		}
		return uint8(n)
	}
	return color.RGBA{
		R: channel("r", 0),
		G: channel("g", 0),
		B: channel("b", 0),
		A: channel("a", 255),
	}, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{
		"r": c.R,
		"g": c.G,
		"b": c.B,
		"a": c.A,
	}
}
