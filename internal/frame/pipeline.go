package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pipeline reassembles frames from decoder output and publishes them to a
// sink. Tick, Push and Close must be called from a single goroutine; Stats is
// safe to call from anywhere.
type Pipeline struct {
	session   string
	spec      Spec
	acc       *Accumulator
	extractor Extractor
	decoder   Decoder
	sink      Sink
	observer  Observer
	log       zerolog.Logger

	seq     uint64
	closed  bool
	started time.Time

	bytesIn   atomic.Uint64
	extracted atomic.Uint64
	published atomic.Uint64
	corrupt   atomic.Uint64
	desyncs   atomic.Uint64
	discarded atomic.Uint64
	buffered  atomic.Int64
}

// Stats is a snapshot of pipeline counters
type Stats struct {
	Session         string    `json:"session"`
	Spec            string    `json:"spec"`
	Started         time.Time `json:"started"`
	BytesIn         uint64    `json:"bytes_in"`
	FramesExtracted uint64    `json:"frames_extracted"`
	FramesPublished uint64    `json:"frames_published"`
	FramesCorrupt   uint64    `json:"frames_corrupt"`
	Desyncs         uint64    `json:"desyncs"`
	DiscardedBytes  uint64    `json:"discarded_bytes"`
	Buffered        int       `json:"buffered"`
	FPS             float64   `json:"fps"`
}

// NewPipeline creates a pipeline for the given frame spec
func NewPipeline(spec Spec, sink Sink) (*Pipeline, error) {
	if sink == nil {
		return nil, fmt.Errorf("pipeline requires a sink")
	}
	extractor, err := NewExtractor(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid frame spec: %w", err)
	}
	decoder, err := NewDecoder(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid frame spec: %w", err)
	}

	session := uuid.NewString()
	p := &Pipeline{
		session:   session,
		spec:      spec,
		acc:       NewAccumulator(2 * spec.FrameLength()),
		extractor: extractor,
		decoder:   decoder,
		sink:      sink,
		log:       logger.WithComponent("pipeline").With().Str("session", session).Logger(),
		started:   time.Now(),
	}

	p.log.Info().Str("spec", spec.String()).Msg("Pipeline created")
	return p, nil
}

// SetObserver installs an event observer
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// SetDecoder replaces the decoder chosen from the spec
func (p *Pipeline) SetDecoder(d Decoder) {
	p.decoder = d
}

// Session returns the pipeline's unique session id
func (p *Pipeline) Session() string {
	return p.session
}

// Spec returns the frame spec the pipeline was built with
func (p *Pipeline) Spec() Spec {
	return p.spec
}

// Buffered returns the number of bytes waiting for a complete frame
func (p *Pipeline) Buffered() int {
	return p.acc.Len()
}

// Tick runs one accumulate-extract-decode-publish cycle over whatever src has
// available. It returns the number of frames published. No data is not an
// error.
func (p *Pipeline) Tick(src Source) (int, error) {
	return p.Push(src.Drain())
}

// Push appends a chunk of decoder output and publishes every frame it
// completes
func (p *Pipeline) Push(chunk []byte) (int, error) {
	if p.closed {
		return 0, fmt.Errorf("%w: pipeline closed", ErrInvariantViolation)
	}
	if len(chunk) > 0 {
		p.acc.Append(chunk)
		p.bytesIn.Add(uint64(len(chunk)))
	}
	return p.process()
}

func (p *Pipeline) process() (int, error) {
	frames, extractErr := p.extractor.ExtractAll(p.acc)
	p.extracted.Add(uint64(len(frames)))

	published := 0
	for i, raw := range frames {
		ok, err := p.publish(raw)
		frames[i] = nil
		if err != nil {
			p.sync()
			return published, err
		}
		if ok {
			published++
		}
	}

	if extractErr != nil {
		if errors.Is(extractErr, ErrDesynchronized) {
			buffered := p.acc.Len()
			p.acc.Reset()
			p.extractor.Reset()
			p.desyncs.Add(1)
			p.log.Warn().Err(extractErr).Int("dropped_bytes", buffered).Msg("Stream desynchronized, buffer reset")
			if p.observer != nil {
				p.observer.Desynchronized(buffered)
			}
		}
		p.sync()
		return published, extractErr
	}

	p.sync()
	return published, nil
}

// publish decodes one frame and hands it to the sink. Corrupt frames are
// dropped and reported as (false, nil).
func (p *Pipeline) publish(raw RawFrame) (bool, error) {
	dec, err := p.decoder.Decode(raw)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return false, err
		}
		p.corrupt.Add(1)
		p.log.Warn().Err(err).Int("bytes", len(raw)).Msg("Dropping undecodable frame")
		if p.observer != nil {
			p.observer.FrameDropped(DropCorrupt)
		}
		return false, nil
	}

	p.seq++
	dec.Seq = p.seq
	dec.Received = time.Now()
	p.sink.Publish(dec)
	p.published.Add(1)

	if p.observer != nil {
		p.observer.FramePublished(dec)
	}
	p.log.Debug().Uint64("seq", dec.Seq).Int("width", dec.Width).Int("height", dec.Height).Msg("Frame published")
	return true, nil
}

// sync copies single-goroutine state into the shared counters
func (p *Pipeline) sync() {
	p.buffered.Store(int64(p.acc.Len()))
	p.discarded.Store(p.extractor.Discarded())
	if p.observer != nil {
		p.observer.Buffered(p.acc.Len())
	}
}

// Close discards any incomplete frame and rejects further input
func (p *Pipeline) Close() {
	if p.closed {
		return
	}
	residual := p.acc.Len()
	p.acc.Reset()
	p.extractor.Reset()
	p.closed = true
	p.sync()
	p.log.Info().
		Int("discarded_tail", residual).
		Uint64("published", p.published.Load()).
		Uint64("corrupt", p.corrupt.Load()).
		Msg("Pipeline closed")
}

// Stats returns a snapshot of the pipeline counters
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Session:         p.session,
		Spec:            p.spec.String(),
		Started:         p.started,
		BytesIn:         p.bytesIn.Load(),
		FramesExtracted: p.extracted.Load(),
		FramesPublished: p.published.Load(),
		FramesCorrupt:   p.corrupt.Load(),
		Desyncs:         p.desyncs.Load(),
		DiscardedBytes:  p.discarded.Load(),
		Buffered:        int(p.buffered.Load()),
	}
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		s.FPS = float64(s.FramesPublished) / elapsed
	}
	return s
}
