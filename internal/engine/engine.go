package engine

import "context"

// Engine turns a window of 16 kHz mono float32 samples into text. One Engine
// is shared by every session, so implementations must be safe for concurrent
// use.
type Engine interface {
	// Transcribe runs one inference pass over samples. An empty result means
	// nothing was recognised.
	Transcribe(ctx context.Context, samples []float32, opts Options) (string, error)
	// Close releases underlying resources.
	Close() error
}

// Options configures a single inference pass.
type Options struct {
	Language string
	Threads  int
	// Final marks the pass triggered by the end of the stream.
	Final bool
}
