package telemetry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder tracks server-level totals and mirrors them into OpenTelemetry
// instruments.
type Recorder struct {
	log  *slog.Logger
	inst *instruments

	totalSessions         atomic.Uint64
	activeSessions        atomic.Int64
	totalRejected         atomic.Uint64
	totalFrames           atomic.Uint64
	totalSamples          atomic.Uint64
	totalSkippedSamples   atomic.Uint64
	totalInferences       atomic.Uint64
	totalInferenceErrors  atomic.Uint64
	totalTranscripts      atomic.Uint64
	totalFinalTranscripts atomic.Uint64
	totalProtocolErrors   atomic.Uint64
}

// Snapshot captures cumulative metrics recorded so far.
type Snapshot struct {
	TotalSessions         uint64
	ActiveSessions        int64
	TotalRejected         uint64
	TotalFrames           uint64
	TotalSamples          uint64
	TotalSkippedSamples   uint64
	TotalInferences       uint64
	TotalInferenceErrors  uint64
	TotalTranscripts      uint64
	TotalFinalTranscripts uint64
	TotalProtocolErrors   uint64
}

// NewRecorder constructs a Recorder using the provided logger. A nil meter
// provider disables metric export; the in-process totals are kept either way.
func NewRecorder(logger *slog.Logger, mp metric.MeterProvider) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "telemetry.Recorder")
	inst, err := newInstruments(mp)
	if err != nil {
		log.Warn("metric instruments unavailable; exporting disabled", "error", err)
		inst, _ = newInstruments(nil)
	}
	return &Recorder{
		log:  log,
		inst: inst,
	}
}

// Snapshot returns an immutable view of the recorder totals.
func (r *Recorder) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	return Snapshot{
		TotalSessions:         r.totalSessions.Load(),
		ActiveSessions:        r.activeSessions.Load(),
		TotalRejected:         r.totalRejected.Load(),
		TotalFrames:           r.totalFrames.Load(),
		TotalSamples:          r.totalSamples.Load(),
		TotalSkippedSamples:   r.totalSkippedSamples.Load(),
		TotalInferences:       r.totalInferences.Load(),
		TotalInferenceErrors:  r.totalInferenceErrors.Load(),
		TotalTranscripts:      r.totalTranscripts.Load(),
		TotalFinalTranscripts: r.totalFinalTranscripts.Load(),
		TotalProtocolErrors:   r.totalProtocolErrors.Load(),
	}
}

// RecordRejected counts a connection refused by admission control. Logging
// the rejection is left to the caller.
func (r *Recorder) RecordRejected() {
	if r == nil {
		return
	}
	r.totalRejected.Add(1)
	r.inst.rejected.Add(context.Background(), 1)
}

// StreamMetrics accumulates statistics for a single session.
type StreamMetrics struct {
	recorder *Recorder
	log      *slog.Logger

	sessionID  string
	remoteAddr string

	started          time.Time
	frames           int
	samples          int
	skippedSamples   int
	inferences       int
	transcripts      int
	finalTranscripts int
	protocolErrors   int
	flushes          int
	closed           atomic.Bool
}

// StartStream initialises a StreamMetrics instance bound to the recorder.
func (r *Recorder) StartStream(sessionID, remoteAddr string) *StreamMetrics {
	if r == nil {
		return nil
	}

	r.totalSessions.Add(1)
	r.activeSessions.Add(1)
	r.inst.sessions.Add(context.Background(), 1)
	r.inst.activeSessions.Add(context.Background(), 1)

	return &StreamMetrics{
		recorder: r,
		log: r.log.With(
			"session_id", sessionID,
			"remote_addr", remoteAddr,
		),
		sessionID:  sessionID,
		remoteAddr: remoteAddr,
		started:    time.Now(),
	}
}

// RecordFrame updates counters for a decoded audio frame. buffered is false
// when the voice activity gate kept the samples out of the window.
func (s *StreamMetrics) RecordFrame(samples int, buffered bool) {
	if s == nil || samples <= 0 {
		return
	}
	s.frames++
	s.samples += samples
	s.recorder.totalFrames.Add(1)
	s.recorder.totalSamples.Add(uint64(samples))
	if !buffered {
		s.skippedSamples += samples
		s.recorder.totalSkippedSamples.Add(uint64(samples))
	}
	s.recorder.inst.samples.Add(context.Background(), int64(samples),
		metric.WithAttributes(attribute.Bool("buffered", buffered)))

	s.log.Debug("frame received",
		"samples", samples,
		"buffered", buffered,
	)
}

// RecordInference records the outcome of one inference pass.
func (s *StreamMetrics) RecordInference(duration time.Duration, samples int, final bool, err error) {
	if s == nil {
		return
	}
	s.inferences++
	s.recorder.totalInferences.Add(1)
	attrs := metric.WithAttributes(attribute.Bool("final", final))
	s.recorder.inst.inferenceDuration.Record(context.Background(), duration.Seconds(), attrs)
	if err != nil {
		s.recorder.totalInferenceErrors.Add(1)
		s.recorder.inst.inferenceErrors.Add(context.Background(), 1, attrs)
		s.log.Warn("inference failed", "final", final, "samples", samples, "error", err)
		return
	}
	s.log.Debug("inference completed",
		"final", final,
		"samples", samples,
		"duration_ms", duration.Milliseconds(),
	)
}

// RecordTranscript stores statistics for an emitted transcript.
func (s *StreamMetrics) RecordTranscript(text string, final bool) {
	if s == nil {
		return
	}
	s.transcripts++
	if final {
		s.finalTranscripts++
		s.recorder.totalFinalTranscripts.Add(1)
	}
	s.recorder.totalTranscripts.Add(1)
	s.recorder.inst.transcripts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.Bool("final", final)))

	s.log.Debug("transcript emitted",
		"final", final,
		"chars", len(text),
		"runes", utf8.RuneCountInString(text),
	)
}

// RecordProtocolError counts an error message sent to the client.
func (s *StreamMetrics) RecordProtocolError(code string) {
	if s == nil {
		return
	}
	s.protocolErrors++
	s.recorder.totalProtocolErrors.Add(1)
	s.recorder.inst.protocolErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("code", code)))
}

// RecordFlush increments counters for an end-of-stream request.
func (s *StreamMetrics) RecordFlush() {
	if s == nil {
		return
	}
	s.flushes++
}

// Finish logs a summary and updates active session counters.
func (s *StreamMetrics) Finish(err error) {
	if s == nil {
		return
	}
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	defer func() {
		s.recorder.activeSessions.Add(-1)
		s.recorder.inst.activeSessions.Add(context.Background(), -1)
	}()

	duration := time.Since(s.started)
	args := []any{
		"duration_ms", duration.Milliseconds(),
		"frames", s.frames,
		"samples", s.samples,
		"skipped_samples", s.skippedSamples,
		"inferences", s.inferences,
		"transcripts", s.transcripts,
		"final_transcripts", s.finalTranscripts,
		"protocol_errors", s.protocolErrors,
		"flushes", s.flushes,
	}

	if err != nil {
		s.log.Error("session completed with error", append(args, "error", err)...)
		return
	}

	s.log.Info("session completed", args...)
}
