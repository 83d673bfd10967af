package source

import (
	"errors"
	"io"
	"sync"

	"github.com/bryanchriswhite/feedview/internal/logger"
)

const (
	// DefaultChunkSize is the size of a single read from the decoder
	DefaultChunkSize = 64 << 10
	// DefaultQueueDepth is how many chunks may wait for the next tick before
	// the reader stops pulling from the pipe
	DefaultQueueDepth = 256
)

// Reader pumps an io.Reader on a background goroutine and exposes what has
// arrived through a non-blocking Drain, so a poll loop never waits on the
// pipe.
type Reader struct {
	r         io.Reader
	chunkSize int
	chunks    chan []byte
	done      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	startOnce sync.Once

	mu  sync.Mutex
	err error
}

// NewReader wraps r. Call Start to begin reading.
func NewReader(r io.Reader, chunkSize, depth int) *Reader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Reader{
		r:         r,
		chunkSize: chunkSize,
		chunks:    make(chan []byte, depth),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// Start launches the read loop
func (s *Reader) Start() {
	s.startOnce.Do(func() {
		go s.pump()
	})
}

func (s *Reader) pump() {
	defer close(s.done)
	log := logger.WithComponent("source")

	for {
		buf := make([]byte, s.chunkSize)
		n, err := s.r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				log.Warn().Err(err).Msg("Read from decoder output failed")
			} else {
				log.Debug().Msg("EOF from decoder output")
			}
			return
		}
	}
}

// Drain returns every chunk queued since the last call, concatenated, or nil
// if nothing is waiting
func (s *Reader) Drain() []byte {
	var out []byte
	for {
		select {
		case c := <-s.chunks:
			if out == nil {
				out = c
			} else {
				out = append(out, c...)
			}
		default:
			return out
		}
	}
}

// Done is closed once the underlying reader is exhausted or failed. Chunks
// read before that remain available to Drain.
func (s *Reader) Done() <-chan struct{} {
	return s.done
}

// Err returns the read error that ended the stream, or nil on a clean EOF
func (s *Reader) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop abandons reading. Queued chunks are not discarded.
func (s *Reader) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}
