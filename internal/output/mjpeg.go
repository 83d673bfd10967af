package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/feedview/internal/logger"
)

// DefaultQuality is used when the configured JPEG quality is out of range
const DefaultQuality = 80

// MJPEGOutput streams frames as Motion JPEG over HTTP
type MJPEGOutput struct {
	config  Config
	running bool
	mu      sync.RWMutex

	// Most recent encoded frame, served to new clients and snapshots
	frameMu     sync.RWMutex
	currentJPEG []byte
	lastUpdate  time.Time

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameCount uint64
	startTime  time.Time
}

// MJPEGStats describes the stream for the status API
type MJPEGStats struct {
	Running    bool      `json:"running"`
	Frames     uint64    `json:"frames"`
	Clients    int       `json:"clients"`
	FPS        float64   `json:"fps"`
	LastUpdate time.Time `json:"last_update"`
}

// NewMJPEGOutput creates a new MJPEG stream output
func NewMJPEGOutput(config Config) *MJPEGOutput {
	if config.Quality < 1 || config.Quality > 100 {
		config.Quality = DefaultQuality
	}
	return &MJPEGOutput{
		config:  config,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start initializes the MJPEG output. The HTTP handler is registered
// separately via GetHTTPHandler.
func (m *MJPEGOutput) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("MJPEG output already running")
	}

	m.running = true
	m.startTime = time.Now()
	m.frameCount = 0

	logger.WithComponent("mjpeg").Info().Int("quality", m.config.Quality).Msg("MJPEG output started")
	return nil
}

// Stop cleanly shuts down the output and disconnects all clients
func (m *MJPEGOutput) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Uint64("frames", m.frameCount).Msg("MJPEG output stopped")
	return nil
}

// WriteFrame encodes the frame and sends it to all connected clients
func (m *MJPEGOutput) WriteFrame(frame image.Image) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG output not running")
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, frame, &jpeg.Options{Quality: m.config.Quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.currentJPEG = jpegData
	m.lastUpdate = time.Now()
	m.frameMu.Unlock()

	m.mu.Lock()
	m.frameCount++
	m.mu.Unlock()

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()

	return nil
}

// Name returns the output type name
func (m *MJPEGOutput) Name() string {
	return "MJPEG HTTP Stream"
}

// IsRunning returns true if the output is active
func (m *MJPEGOutput) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// CurrentJPEG returns the most recently encoded frame, or nil
func (m *MJPEGOutput) CurrentJPEG() []byte {
	m.frameMu.RLock()
	defer m.frameMu.RUnlock()
	return m.currentJPEG
}

// Stats returns stream statistics
func (m *MJPEGOutput) Stats() MJPEGStats {
	m.mu.RLock()
	running := m.running
	frameCount := m.frameCount
	startTime := m.startTime
	m.mu.RUnlock()

	m.frameMu.RLock()
	lastUpdate := m.lastUpdate
	m.frameMu.RUnlock()

	m.clientsMu.RLock()
	clientCount := len(m.clients)
	m.clientsMu.RUnlock()

	var fps float64
	if running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			fps = float64(frameCount) / elapsed
		}
	}

	return MJPEGStats{
		Running:    running,
		Frames:     frameCount,
		Clients:    clientCount,
		FPS:        fps,
		LastUpdate: lastUpdate,
	}
}

func (m *MJPEGOutput) addClient() chan []byte {
	frameChan := make(chan []byte, 2)

	// Seed with the latest frame so the client shows something immediately.
	// The channel is private until registered, so this send cannot block.
	if current := m.CurrentJPEG(); current != nil {
		frameChan <- current
	}

	m.clientsMu.Lock()
	m.clients[frameChan] = struct{}{}
	clientCount := len(m.clients)
	m.clientsMu.Unlock()

	logger.WithComponent("mjpeg").Info().Int("clients", clientCount).Msg("New client connected")
	return frameChan
}

func (m *MJPEGOutput) removeClient(frameChan chan []byte) {
	m.clientsMu.Lock()
	delete(m.clients, frameChan)
	clientCount := len(m.clients)
	m.clientsMu.Unlock()
	logger.WithComponent("mjpeg").Info().Int("clients", clientCount).Msg("Client disconnected")
}

// GetHTTPHandler returns an http.Handler for the MJPEG stream.
// Mount this at /stream or similar endpoint.
func (m *MJPEGOutput) GetHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "stream not running", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := m.addClient()
		defer m.removeClient(frameChan)

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if err := writePart(w, jpegData); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// writePart writes one multipart/x-mixed-replace part
func writePart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\r\n")
	return err
}

// GetViewerHandler returns a minimal page that shows the stream and live stats
func (m *MJPEGOutput) GetViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(viewerHTML))
	}
}

const viewerHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>feedview</title>
    <style>
        html, body { margin: 0; height: 100%; background: #000; }
        img { width: 100%; height: 100%; object-fit: contain; }
        #stats { position: fixed; top: 8px; left: 8px; font: 12px monospace; color: #4ec9b0;
                 background: rgba(0,0,0,0.6); padding: 4px 8px; border-radius: 4px; }
    </style>
</head>
<body>
    <img src="/stream" alt="stream">
    <div id="stats">connecting...</div>
    <script>
        const stats = document.getElementById('stats');
        const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
        const ws = new WebSocket(proto + location.host + '/api/stats/ws');
        ws.onmessage = (ev) => {
            const s = JSON.parse(ev.data);
            stats.textContent = s.frames_published + ' frames | ' + s.fps.toFixed(1) + ' fps | ' +
                s.frames_corrupt + ' corrupt | ' + s.desyncs + ' desyncs';
        };
        ws.onclose = () => { stats.textContent = 'disconnected'; };
    </script>
</body>
</html>`
