package source

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/feedview/internal/logger"
)

// Probe runs a short-lived command (gst-launch-1.0 -v ... num-buffers=1 !
// fakesink, ffprobe, ...) and parses frame dimensions from its output
func Probe(command string, timeout time.Duration) (int, int, error) {
	log := logger.WithComponent("source")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Caps are often printed before the probe pipeline errors out
		log.Debug().Err(err).Str("output", string(output)).Msg("Probe command output")
	}

	width, height, ok := ParseDimensions(string(output))
	if !ok {
		return 0, 0, fmt.Errorf("could not determine video dimensions")
	}
	log.Info().Int("width", width).Int("height", height).Msg("Probed video dimensions")
	return width, height, nil
}

var sizePattern = regexp.MustCompile(`\b(\d{2,5})x(\d{2,5})\b`)

// ParseDimensions finds a frame size in decoder diagnostics. It understands
// GStreamer caps ("width=(int)1920, height=(int)1080"), key=value lines
// ("width=1920") and ffmpeg stream lines ("Video: rawvideo, rgb24, 640x480").
func ParseDimensions(output string) (int, int, bool) {
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "width=") && strings.Contains(line, "height=") {
			width := extractIntFromCaps(line, "width")
			height := extractIntFromCaps(line, "height")
			if width > 0 && height > 0 {
				return width, height, true
			}
		}
	}

	// ffprobe prints width and height on separate lines
	width := extractIntFromCaps(output, "width")
	height := extractIntFromCaps(output, "height")
	if width > 0 && height > 0 {
		return width, height, true
	}

	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "Video:") {
			continue
		}
		if m := sizePattern.FindStringSubmatch(line); m != nil {
			w, err1 := strconv.Atoi(m[1])
			h, err2 := strconv.Atoi(m[2])
			if err1 == nil && err2 == nil && w > 0 && h > 0 {
				return w, h, true
			}
		}
	}
	return 0, 0, false
}

// extractIntFromCaps extracts an integer value from a GStreamer caps string
func extractIntFromCaps(caps, key string) int {
	// Look for patterns like "width=(int)1920" or "width=1920"
	patterns := []string{
		key + "=(int)",
		key + "=",
	}

	for _, pattern := range patterns {
		idx := strings.Index(caps, pattern)
		if idx >= 0 {
			start := idx + len(pattern)
			end := start
			for end < len(caps) && (caps[end] >= '0' && caps[end] <= '9') {
				end++
			}
			if end > start {
				val, err := strconv.Atoi(caps[start:end])
				if err == nil {
					return val
				}
			}
		}
	}
	return 0
}
