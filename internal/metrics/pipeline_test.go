package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ frame.Observer = (*PipelineMetrics)(nil)

func TestPipelineMetrics_RecordsEvents(t *testing.T) {
	m := NewPipelineMetrics()

	m.FramePublished(&frame.Decoded{Seq: 1, Width: 640, Height: 480, Received: time.Now()})
	m.FramePublished(&frame.Decoded{Seq: 2, Width: 320, Height: 240})
	m.FrameDropped(frame.DropCorrupt)
	m.Desynchronized(1024)
	m.Buffered(77)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesDropped.WithLabelValues(frame.DropCorrupt)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.desyncs))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.desyncBytes))
	assert.Equal(t, 77.0, testutil.ToFloat64(m.bufferedBytes))
	assert.Equal(t, 320.0, testutil.ToFloat64(m.frameWidth))
	assert.Equal(t, 1, testutil.CollectAndCount(m.presentLatency))
}

func TestPipelineMetrics_ObservesPipeline(t *testing.T) {
	m := NewPipelineMetrics()
	p, err := frame.NewPipeline(frame.FixedSize(2, 2, frame.LayoutGray), frame.SinkFunc(func(*frame.Decoded) {}))
	require.NoError(t, err)
	p.SetObserver(m)

	_, err = p.Push(make([]byte, 9))
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesPublished))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bufferedBytes))
}

func TestPipelineMetrics_Handler(t *testing.T) {
	m := NewPipelineMetrics()
	m.FramePublished(&frame.Decoded{Width: 1, Height: 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedview_frames_published_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
