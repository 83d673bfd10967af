package metrics

import (
	"net/http"
	"time"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PipelineMetrics exports pipeline events to Prometheus. It implements
// frame.Observer.
type PipelineMetrics struct {
	registry *prometheus.Registry

	framesPublished prometheus.Counter
	framesDropped   *prometheus.CounterVec
	desyncs         prometheus.Counter
	desyncBytes     prometheus.Counter
	bufferedBytes   prometheus.Gauge
	frameWidth      prometheus.Gauge
	frameHeight     prometheus.Gauge
	presentLatency  prometheus.Histogram
}

// NewPipelineMetrics creates the collectors on a private registry, together
// with the Go runtime and process collectors
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()

	m := &PipelineMetrics{
		registry: registry,
		framesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedview_frames_published_total",
			Help: "Total number of frames presented to the sink",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedview_frames_dropped_total",
			Help: "Total number of extracted frames that were not presented",
		}, []string{"reason"}),
		desyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedview_desyncs_total",
			Help: "Total number of buffer resets after losing frame sync",
		}),
		desyncBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedview_desync_dropped_bytes_total",
			Help: "Bytes discarded by buffer resets",
		}),
		bufferedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedview_buffered_bytes",
			Help: "Bytes waiting for a complete frame",
		}),
		frameWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedview_frame_width_pixels",
			Help: "Width of the last presented frame",
		}),
		frameHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedview_frame_height_pixels",
			Help: "Height of the last presented frame",
		}),
		presentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedview_present_seconds",
			Help:    "Time the sink took to present a decoded frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}

	registry.MustRegister(
		m.framesPublished,
		m.framesDropped,
		m.desyncs,
		m.desyncBytes,
		m.bufferedBytes,
		m.frameWidth,
		m.frameHeight,
		m.presentLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// FramePublished records a presented frame
func (m *PipelineMetrics) FramePublished(f *frame.Decoded) {
	m.framesPublished.Inc()
	m.frameWidth.Set(float64(f.Width))
	m.frameHeight.Set(float64(f.Height))
	if !f.Received.IsZero() {
		m.presentLatency.Observe(time.Since(f.Received).Seconds())
	}
}

// FrameDropped records a frame that was extracted but not presented
func (m *PipelineMetrics) FrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

// Desynchronized records a buffer reset
func (m *PipelineMetrics) Desynchronized(buffered int) {
	m.desyncs.Inc()
	m.desyncBytes.Add(float64(buffered))
}

// Buffered records the accumulator size after a tick
func (m *PipelineMetrics) Buffered(n int) {
	m.bufferedBytes.Set(float64(n))
}

// Handler returns the HTTP handler for /metrics
func (m *PipelineMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
