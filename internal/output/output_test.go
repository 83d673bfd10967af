package output

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutput struct {
	name    string
	running bool
	err     error
	frames  []image.Image
}

func (o *fakeOutput) Start() error    { o.running = true; return nil }
func (o *fakeOutput) Stop() error     { o.running = false; return nil }
func (o *fakeOutput) Name() string    { return o.name }
func (o *fakeOutput) IsRunning() bool { return o.running }
func (o *fakeOutput) WriteFrame(img image.Image) error {
	if o.err != nil {
		return o.err
	}
	o.frames = append(o.frames, img)
	return nil
}

type failingStart struct{ fakeOutput }

func (o *failingStart) Start() error { return errors.New("no display") }

type paintRenderer struct{ enabled bool }

func (r paintRenderer) IsEnabled() bool { return r.enabled }
func (r paintRenderer) Render(img *image.RGBA) error {
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	return nil
}

func solid(w, h int, c color.Gray) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = c.Y
	}
	return img
}

func TestFanout_PublishesToRunningOutputs(t *testing.T) {
	a := &fakeOutput{name: "a"}
	b := &fakeOutput{name: "b", err: errors.New("broken")}
	c := &fakeOutput{name: "c"}

	f := NewFanout(a, b)
	f.Add(c)
	require.NoError(t, f.Start())
	c.running = false

	img := solid(4, 4, color.Gray{Y: 10})
	f.Publish(&frame.Decoded{Seq: 1, Image: img})
	f.Publish(&frame.Decoded{Seq: 2, Image: img})
	f.Publish(nil)

	assert.Len(t, a.frames, 2)
	assert.Same(t, img, a.frames[0].(*image.Gray), "frames pass through untouched without an overlay")
	assert.Empty(t, c.frames)
	assert.Equal(t, uint64(2), f.Errors()["b"])

	f.Stop()
	assert.False(t, a.IsRunning())
}

func TestFanout_OverlayWorksOnCopy(t *testing.T) {
	out := &fakeOutput{name: "out", running: true}
	f := NewFanout(out)
	f.SetOverlay(paintRenderer{enabled: true})

	img := solid(2, 2, color.Gray{Y: 50})
	f.Publish(&frame.Decoded{Seq: 1, Image: img})

	require.Len(t, out.frames, 1)
	rgba, ok := out.frames[0].(*image.RGBA)
	require.True(t, ok)
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, rgba.RGBAAt(0, 0))
	assert.Equal(t, uint8(50), img.Pix[0], "source frame must not be modified")

	f.SetOverlay(paintRenderer{enabled: false})
	f.Publish(&frame.Decoded{Seq: 2, Image: img})
	assert.IsType(t, &image.Gray{}, out.frames[1])
}

func TestFanout_StartRollsBack(t *testing.T) {
	a := &fakeOutput{name: "a"}
	bad := &failingStart{fakeOutput{name: "bad"}}
	f := NewFanout(a, bad)

	assert.Error(t, f.Start())
	assert.False(t, a.IsRunning())
}

func TestToRGBA_NormalizesOrigin(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 13, 12))
	src.SetRGBA(10, 10, color.RGBA{1, 2, 3, 255})

	out := ToRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 3, 2), out.Bounds())
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, out.RGBAAt(0, 0))
}

func TestLatest(t *testing.T) {
	l := NewLatest()
	img, _, n := l.Frame()
	assert.Nil(t, img)
	assert.Zero(t, n)

	require.NoError(t, l.Start())
	assert.True(t, l.IsRunning())
	require.NoError(t, l.WriteFrame(solid(1, 1, color.Gray{Y: 1})))
	assert.Error(t, l.WriteFrame(nil))

	img, received, n := l.Frame()
	assert.NotNil(t, img)
	assert.False(t, received.IsZero())
	assert.Equal(t, uint64(1), n)

	require.NoError(t, l.Stop())
	img, _, _ = l.Frame()
	assert.NotNil(t, img, "last frame survives stop")
}

func TestMJPEGOutput_WriteFrame(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 500})
	assert.Error(t, m.WriteFrame(solid(8, 8, color.Gray{Y: 1})), "not running")

	require.NoError(t, m.Start())
	assert.Error(t, m.Start())
	require.NoError(t, m.WriteFrame(solid(8, 8, color.Gray{Y: 90})))

	decoded, err := jpeg.Decode(bytes.NewReader(m.CurrentJPEG()))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), decoded.Bounds())

	stats := m.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.Frames)

	require.NoError(t, m.Stop())
	assert.False(t, m.Stats().Running)
}

func TestMJPEGOutput_StreamHandler(t *testing.T) {
	m := NewMJPEGOutput(Config{Quality: 70})
	require.NoError(t, m.Start())
	defer m.Stop()
	require.NoError(t, m.WriteFrame(solid(8, 8, color.Gray{Y: 200})))

	srv := httptest.NewServer(m.GetHTTPHandler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	boundary, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", boundary)

	length := -1
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length, err = strconv.Atoi(v)
			require.NoError(t, err)
		}
	}
	require.Positive(t, length)

	body := make([]byte, length)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	assert.Equal(t, m.CurrentJPEG(), body)
}

func TestMJPEGOutput_SlowClientNeverBlocks(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	require.NoError(t, m.Start())
	require.NoError(t, m.WriteFrame(solid(4, 4, color.Gray{Y: 1})))

	added := make(chan chan []byte, 1)
	go func() { added <- m.addClient() }()
	var ch chan []byte
	select {
	case ch = <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("seeding a new client blocked")
	}

	// Nobody reads ch: the buffer fills and later frames are skipped
	for i := 0; i < 5; i++ {
		require.NoError(t, m.WriteFrame(solid(4, 4, color.Gray{Y: uint8(i)})))
	}
	assert.Len(t, ch, cap(ch))

	require.NoError(t, m.Stop())
	received := 0
	for range ch {
		received++
	}
	assert.Equal(t, cap(ch), received)
}

func TestMJPEGOutput_StreamUnavailableWhenStopped(t *testing.T) {
	m := NewMJPEGOutput(Config{})
	rec := httptest.NewRecorder()
	m.GetHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	m.GetViewerHandler()(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), "/api/stats/ws")
}
