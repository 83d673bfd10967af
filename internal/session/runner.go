package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/rs/zerolog"
)

// DefaultFPS is the tick rate used when none is configured
const DefaultFPS = 30

// Stream is a frame source that can tell when its input has ended
type Stream interface {
	frame.Source
	Done() <-chan struct{}
	Err() error
}

// Runner drives a pipeline from a stream at a fixed tick rate
type Runner struct {
	stream   Stream
	pipeline *frame.Pipeline
	interval time.Duration
	log      zerolog.Logger
}

// NewRunner creates a runner ticking fps times per second
func NewRunner(stream Stream, pipeline *frame.Pipeline, fps int) (*Runner, error) {
	if stream == nil || pipeline == nil {
		return nil, fmt.Errorf("runner requires a stream and a pipeline")
	}
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Runner{
		stream:   stream,
		pipeline: pipeline,
		interval: time.Second / time.Duration(fps),
		log:      logger.WithComponent("session").With().Str("session", pipeline.Session()).Logger(),
	}, nil
}

// Interval returns the tick period
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Run ticks the pipeline until ctx is cancelled or the stream ends. When the
// stream ends, whatever it buffered is drained in a final tick. The pipeline
// is closed on return. Cancellation is a clean stop and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer r.pipeline.Close()

	r.log.Info().Dur("interval", r.interval).Msg("Session started")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("Session stopped")
			return nil

		case <-r.stream.Done():
			if err := r.tick(); err != nil {
				return err
			}
			stats := r.pipeline.Stats()
			r.log.Info().
				Uint64("published", stats.FramesPublished).
				Uint64("corrupt", stats.FramesCorrupt).
				Uint64("desyncs", stats.Desyncs).
				Int("residual", stats.Buffered).
				Msg("Stream ended")
			if err := r.stream.Err(); err != nil {
				return fmt.Errorf("stream failed: %w", err)
			}
			return nil

		case <-ticker.C:
			if err := r.tick(); err != nil {
				return err
			}
		}
	}
}

// tick runs one pipeline cycle. Desynchronization has already been recovered
// from by the pipeline and only needs noting here.
func (r *Runner) tick() error {
	_, err := r.pipeline.Tick(r.stream)
	if err == nil {
		return nil
	}
	if errors.Is(err, frame.ErrDesynchronized) {
		r.log.Debug().Err(err).Msg("Continuing after resync")
		return nil
	}
	r.log.Error().Err(err).Msg("Pipeline failed")
	return err
}
