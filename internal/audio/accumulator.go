// Package audio buffers decoded PCM for a session and decides when enough new
// audio has arrived to run another transcription pass.
package audio

import "sync"

const (
	// SampleRate is the only accepted input rate: mono float32 at 16 kHz.
	SampleRate = 16000
	// BufferSeconds bounds the sliding window kept per session.
	BufferSeconds = 30
	// DefaultCapacity is the window size in samples.
	DefaultCapacity = BufferSeconds * SampleRate
	// TriggerThreshold is the number of new samples (1 s) that makes another
	// inference pass due.
	TriggerThreshold = SampleRate
)

// Accumulator is a bounded sliding window of samples. Its length never
// exceeds its capacity: when an append would overflow, the oldest half of the
// window is discarded first.
type Accumulator struct {
	mu            sync.Mutex
	capacity      int
	samples       []float32
	highWaterMark int
}

// NewAccumulator returns an empty accumulator. A non-positive capacity selects
// DefaultCapacity.
func NewAccumulator(capacity int) *Accumulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Accumulator{
		capacity: capacity,
		samples:  make([]float32, 0, capacity),
	}
}

// Append adds samples to the end of the window, evicting old audio as needed.
func (a *Accumulator) Append(chunk []float32) {
	if len(chunk) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples)+len(chunk) > a.capacity {
		half := len(a.samples) / 2
		a.samples = append(a.samples[:0], a.samples[half:]...)
	}
	if len(chunk) > a.capacity {
		chunk = chunk[len(chunk)-a.capacity:]
	}
	if overflow := len(a.samples) + len(chunk) - a.capacity; overflow > 0 {
		a.samples = append(a.samples[:0], a.samples[overflow:]...)
	}
	a.samples = append(a.samples, chunk...)
}

// Due reports whether at least threshold samples arrived since the last pass
// and, if so, returns a copy of the whole window and records the new high
// water mark. A window that shrank below the mark through eviction resets the
// mark to zero before the check.
func (a *Accumulator) Due(threshold int) ([]float32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.samples) < a.highWaterMark {
		a.highWaterMark = 0
	}
	if len(a.samples)-a.highWaterMark < threshold {
		return nil, false
	}
	a.highWaterMark = len(a.samples)
	return a.copyLocked(), true
}

// Snapshot returns a copy of the current window.
func (a *Accumulator) Snapshot() []float32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyLocked()
}

// Len returns the number of buffered samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Capacity returns the maximum number of samples retained.
func (a *Accumulator) Capacity() int { return a.capacity }

// HighWaterMark returns the window length at the last triggered pass.
func (a *Accumulator) HighWaterMark() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.highWaterMark
}

// Reset empties the window and clears the high water mark.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.samples = a.samples[:0]
	a.highWaterMark = 0
}

func (a *Accumulator) copyLocked() []float32 {
	out := make([]float32, len(a.samples))
	copy(out, a.samples)
	return out
}
