package frame

// Sink receives decoded frames in arrival order. Publish is called once per
// decoded frame on the pipeline's goroutine and should return quickly.
type Sink interface {
	Publish(f *Decoded)
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(f *Decoded)

// Publish calls fn(f)
func (fn SinkFunc) Publish(f *Decoded) { fn(f) }

// Source yields decoder output. Drain returns the bytes available right now
// and never blocks; it returns nil when there is nothing to read.
type Source interface {
	Drain() []byte
}

// Observer receives pipeline events, typically for metrics
type Observer interface {
	FramePublished(f *Decoded)
	FrameDropped(reason string)
	Desynchronized(buffered int)
	Buffered(n int)
}

// DropCorrupt is the reason passed to Observer.FrameDropped for frames the
// decoder rejected
const DropCorrupt = "corrupt"
