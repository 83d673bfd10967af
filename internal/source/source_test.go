package source

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drainUntilDone collects everything a source yields until it reports done
func drainUntilDone(t *testing.T, drain func() []byte, done <-chan struct{}) []byte {
	t.Helper()
	var out []byte
	deadline := time.After(5 * time.Second)
	for {
		out = append(out, drain()...)
		select {
		case <-done:
			return append(out, drain()...)
		case <-deadline:
			t.Fatal("source did not finish")
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestReader_DeliversAllBytesInOrder(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	r := NewReader(bytes.NewReader(payload), 7, 4)
	r.Start()

	got := drainUntilDone(t, r.Drain, r.Done())
	assert.Equal(t, payload, got)
	assert.NoError(t, r.Err())
}

func TestReader_DrainWhenEmpty(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := NewReader(pr, 0, 0)
	r.Start()
	assert.Nil(t, r.Drain(), "drain must not block when nothing has arrived")
	r.Stop()
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("pipe broke") }

func TestReader_ReportsReadError(t *testing.T) {
	r := NewReader(failingReader{}, 16, 1)
	r.Start()

	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not finish")
	}
	assert.EqualError(t, r.Err(), "pipe broke")
}

func TestProcess_ReadsStdout(t *testing.T) {
	p, err := NewProcess(`printf 'abc'; printf 'def' >&2; printf 'ghi'`)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	assert.NotZero(t, p.Pid())

	got := drainUntilDone(t, p.Drain, p.Done())
	assert.Equal(t, "abcghi", string(got))
	assert.NoError(t, p.Err())
	assert.False(t, p.IsRunning())
	assert.NoError(t, p.Stop())
}

func TestProcess_StopTerminatesLongRunningDecoder(t *testing.T) {
	p, err := NewProcess(`while true; do printf 'x'; sleep 0.01; done`)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	assert.Error(t, p.Start(), "second start must fail")

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, p.Stop())
	assert.False(t, p.IsRunning())
}

func TestProcess_StopLetsDecoderExitCleanly(t *testing.T) {
	p, err := NewProcess(`trap 'exit 0' TERM; while true; do sleep 0.05; done`)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), DefaultStopTimeout, "decoder should exit on SIGTERM")
	assert.NoError(t, p.Err())
}

func TestProcess_StopKillsDecoderIgnoringTerm(t *testing.T) {
	p, err := NewProcess(`trap '' TERM; while true; do sleep 0.01; done`)
	require.NoError(t, err)
	p.stopTimeout = 200 * time.Millisecond
	require.NoError(t, p.Start())
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.False(t, p.IsRunning())
	assert.Error(t, p.Err(), "killed decoder reports its signal")
}

// lockedBuffer is a log destination safe for concurrent writers
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestProcess_LogsFinalStderrBeforeExit(t *testing.T) {
	var logs lockedBuffer
	logger.InitWriter(&logs, "debug", false)
	t.Cleanup(func() { logger.Init("info", false) })

	p, err := NewProcess(`printf 'abc'; printf 'ERROR: rtsp session lost\n' >&2; exit 2`)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	drainUntilDone(t, p.Drain, p.Done())
	assert.Error(t, p.Err())
	assert.Contains(t, logs.String(), "rtsp session lost")
}

func TestProcess_NonZeroExit(t *testing.T) {
	p, err := NewProcess(`exit 3`)
	require.NoError(t, err)
	require.NoError(t, p.Start())

	drainUntilDone(t, p.Drain, p.Done())
	assert.Error(t, p.Err())
}

func TestNewProcess_EmptyCommand(t *testing.T) {
	_, err := NewProcess("  ")
	assert.Error(t, err)
}

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		name   string
		output string
		width  int
		height int
		ok     bool
	}{
		{
			name:   "gstreamer caps",
			output: "/GstPipeline:pipeline0/GstPipeWireSrc:pipewiresrc0.GstPad:src: caps = video/x-raw, format=(string)BGRx, width=(int)2560, height=(int)1440, framerate=(fraction)0/1",
			width:  2560,
			height: 1440,
			ok:     true,
		},
		{
			name:   "ffprobe key value",
			output: "[STREAM]\nwidth=640\nheight=480\n[/STREAM]\n",
			width:  640,
			height: 480,
			ok:     true,
		},
		{
			name:   "ffmpeg stream line",
			output: "  Stream #0:0: Video: h264 (High), yuv420p(progressive), 1280x720 [SAR 1:1 DAR 16:9], 30 fps",
			width:  1280,
			height: 720,
			ok:     true,
		},
		{
			name:   "nothing useful",
			output: "ERROR: pipeline could not be constructed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, ok := ParseDimensions(tt.output)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestProbe(t *testing.T) {
	w, h, err := Probe(`echo "caps = video/x-raw, width=(int)320, height=(int)240"`, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)

	_, _, err = Probe(`echo nothing`, 5*time.Second)
	assert.Error(t, err)
}
