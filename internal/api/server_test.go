package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/feedview/internal/config"
	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/metrics"
	"github.com/bryanchriswhite/feedview/internal/output"
	"github.com/bryanchriswhite/feedview/internal/overlay"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats struct{ s frame.Stats }

func (p staticStats) Stats() frame.Stats { return p.s }

func newTestServer(t *testing.T) (*Server, *output.Latest, *config.Manager) {
	t.Helper()
	cfgMgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	latest := output.NewLatest()
	require.NoError(t, latest.Start())

	mjpeg := output.NewMJPEGOutput(output.Config{})
	require.NoError(t, mjpeg.Start())
	t.Cleanup(func() { mjpeg.Stop() })

	stats := staticStats{frame.Stats{Session: "abc", FramesPublished: 12, FPS: 3}}
	s := NewServer(Options{
		Stats:         stats,
		Config:        cfgMgr,
		MJPEG:         mjpeg,
		Latest:        latest,
		Outputs:       output.NewFanout(mjpeg, latest),
		Overlay:       overlay.NewManager(stats.Stats),
		Metrics:       metrics.NewPipelineMetrics().Handler(),
		StatsInterval: 10 * time.Millisecond,
	})
	return s, latest, cfgMgr
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_HealthAndStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats frame.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "abc", stats.Session)
	assert.Equal(t, uint64(12), stats.FramesPublished)

	rec = do(t, s, http.MethodGet, "/api/stream/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status StreamStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.MJPEG.Running)
	require.Len(t, status.Outputs, 2)
	assert.Equal(t, "MJPEG HTTP Stream", status.Outputs[0].Name)
	assert.Zero(t, status.Outputs[0].Failures)

	rec = do(t, s, http.MethodOptions, "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedview_frames_published_total")

	rec = do(t, s, http.MethodGet, "/", "")
	assert.Contains(t, rec.Body.String(), "<img src=\"/stream\"")
}

func TestServer_MissingComponents(t *testing.T) {
	s := NewServer(Options{})
	for _, path := range []string{"/api/stats", "/api/snapshot", "/api/config", "/api/overlay/widgets"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/metrics", "").Code)
}

func TestServer_Snapshot(t *testing.T) {
	s, latest, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	src := image.NewRGBA(image.Rect(0, 0, 64, 32))
	for i := range src.Pix {
		src.Pix[i] = 180
	}
	require.NoError(t, latest.WriteFrame(src))

	rec = do(t, s, http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())

	rec = do(t, s, http.MethodGet, "/api/snapshot?width=16&format=png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	img, err = png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())
	assert.Equal(t, 8, img.Bounds().Dy(), "aspect ratio preserved")

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/snapshot?width=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/snapshot?width=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/snapshot?format=gif", "").Code)
}

func TestServer_Config(t *testing.T) {
	s, _, cfgMgr := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 8080, cfg.ServerPort)

	cfg.ServerPort = 9999
	cfg.Frame = config.FrameConfig{Mode: "fixed", Width: 8, Height: 8, Layout: "gray"}
	body, err := json.Marshal(cfg)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPut, "/api/config", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 9999, cfgMgr.Get().ServerPort)

	cfg.Frame.Layout = "yuv"
	body, err = json.Marshal(cfg)
	require.NoError(t, err)
	rec = do(t, s, http.MethodPut, "/api/config", string(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/config", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_OverlayWidgets(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/overlay/widgets", `{"type":"text","id":"label","text":"hi","x":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/overlay/widgets", `{"type":"text","id":"label"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/overlay/widgets", `{"type":"clock","id":"c"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/overlay/widgets", `{"text":"no type"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/api/overlay/widgets/label", `{"text":"updated"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"updated"`)

	rec = do(t, s, http.MethodPut, "/api/overlay/widgets/missing", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/overlay/widgets", "")
	var widgets []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &widgets))
	require.Len(t, widgets, 1)
	assert.Equal(t, "label", widgets[0]["id"])

	rec = do(t, s, http.MethodGet, "/api/overlay/types", "")
	assert.Contains(t, rec.Body.String(), `"stats"`)

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodDelete, "/api/overlay/widgets/label", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/overlay/widgets/label", "").Code)
}

func TestServer_StatsWebSocket(t *testing.T) {
	s, _, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stats/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var stats frame.Stats
		require.NoError(t, conn.ReadJSON(&stats))
		assert.Equal(t, "abc", stats.Session)
	}

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
}

func TestServer_StreamServesLatestJPEG(t *testing.T) {
	s, _, _ := newTestServer(t)
	mjpeg := s.opts.MJPEG
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 1, color.Gray{Y: 255})
	require.NoError(t, mjpeg.WriteFrame(img))

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: output.DefaultQuality}))
	assert.Equal(t, buf.Bytes(), mjpeg.CurrentJPEG())
}
