// Package session implements the per-connection protocol state machine:
// handshake and authentication, audio buffering and the partial and final
// transcription passes.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nupi-ai/whisper-stream-server/internal/audio"
	"github.com/nupi-ai/whisper-stream-server/internal/auth"
	"github.com/nupi-ai/whisper-stream-server/internal/config"
	"github.com/nupi-ai/whisper-stream-server/internal/engine"
	"github.com/nupi-ai/whisper-stream-server/internal/telemetry"
	"github.com/nupi-ai/whisper-stream-server/internal/transport"
	"github.com/nupi-ai/whisper-stream-server/internal/vad"
)

// State is the protocol phase of a session.
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateStreaming
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// VADOptions configures the optional voice activity pre-filter.
type VADOptions struct {
	Enabled bool
	// Mode is config.VADModeGate or config.VADModeAnnotate.
	Mode   string
	Config vad.Config
}

// Options tunes a session. Zero values select the defaults.
type Options struct {
	DefaultLanguage  string
	Threads          int
	VAD              VADOptions
	Capacity         int
	TriggerThreshold int
	Now              func() time.Time
}

// Session owns one client connection from handshake to close. It is driven by
// a single goroutine through Run.
type Session struct {
	id      string
	conn    transport.Conn
	engine  engine.Engine
	auth    *auth.Manager
	opts    Options
	log     *slog.Logger
	metrics *telemetry.StreamMetrics

	state    State
	language string
	acc      *audio.Accumulator
	gate     *vad.Gate
}

// New prepares a session over conn. The engine and auth manager are shared
// with every other session.
func New(conn transport.Conn, eng engine.Engine, authMgr *auth.Manager, recorder *telemetry.Recorder, logger *slog.Logger, opts Options) *Session {
	if eng == nil {
		panic("session: engine must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = config.DefaultLanguage
	}
	if opts.Capacity <= 0 {
		opts.Capacity = audio.DefaultCapacity
	}
	if opts.TriggerThreshold <= 0 {
		opts.TriggerThreshold = audio.TriggerThreshold
	}
	if opts.VAD.Mode == "" {
		opts.VAD.Mode = config.VADModeGate
	}

	id := NewID(opts.Now())
	return &Session{
		id:      id,
		conn:    conn,
		engine:  eng,
		auth:    authMgr,
		opts:    opts,
		log:     logger.With("component", "session", "session_id", id, "remote_addr", conn.RemoteAddr()),
		metrics: recorder.StartStream(id, conn.RemoteAddr()),
		state:   StateCreated,
	}
}

// NewID returns an identifier of the form session-<unix-ms>-<random>.
func NewID(now time.Time) string {
	return fmt.Sprintf("session-%d-%s", now.UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current protocol phase.
func (s *Session) State() State { return s.state }

// Language returns the language negotiated by the last config message.
func (s *Session) Language() string { return s.language }

// Run processes frames until the client ends the session, the peer goes away
// or ctx is cancelled. It returns nil for every orderly termination.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		s.state = StateEnded
		s.acc = nil
		s.metrics.Finish(err)
	}()
	s.log.Info("session opened")

	for s.state != StateEnded {
		frame, readErr := s.conn.ReadFrame(ctx)
		if readErr != nil {
			if errors.Is(readErr, transport.ErrClosed) || errors.Is(readErr, context.Canceled) {
				s.log.Info("connection closed", "state", s.state.String())
				return nil
			}
			s.log.Warn("read failed", "error", readErr)
			return readErr
		}

		var handleErr error
		switch frame.Type {
		case transport.TextMessage:
			handleErr = s.handleText(ctx, frame.Data)
		case transport.BinaryMessage:
			handleErr = s.handleBinary(ctx, frame.Data)
		}
		if handleErr != nil {
			s.log.Error("session aborted", "error", handleErr)
			_ = s.conn.Close(transport.CloseInternalError, "internal error")
			return handleErr
		}
	}
	return nil
}

func (s *Session) handleText(ctx context.Context, data []byte) error {
	if !json.Valid(data) {
		return s.sendError(ctx, CodeParseError, "message is not valid JSON")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return s.sendError(ctx, CodeInvalidMessage, "message must be a JSON object")
	}
	var msgType string
	raw, ok := fields["type"]
	if ok {
		if err := json.Unmarshal(raw, &msgType); err != nil {
			msgType = ""
		}
	}
	if msgType == "" {
		return s.sendError(ctx, CodeInvalidMessage, "message type is required")
	}

	switch {
	case msgType == TypeConfig:
		return s.handleConfig(ctx, data)
	case s.state == StateCreated:
		return s.sendError(ctx, CodeNotConfigured, "session is not configured; send a config message first")
	case msgType == TypeEnd:
		return s.handleEnd(ctx)
	default:
		return s.sendError(ctx, CodeUnknownType, fmt.Sprintf("unknown message type %q", msgType))
	}
}

func (s *Session) handleConfig(ctx context.Context, data []byte) error {
	var payload configPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return s.sendError(ctx, CodeConfigError, "invalid config message")
	}

	if s.auth.Enabled() {
		if payload.Token == "" {
			return s.reject(ctx, CodeAuthRequired, "authentication token required")
		}
		if !s.auth.Validate(payload.Token) {
			return s.reject(ctx, CodeAuthFailed, "invalid authentication token")
		}
	}

	language := strings.ToLower(strings.TrimSpace(payload.Language))
	if language == "" {
		language = s.opts.DefaultLanguage
	}
	if !config.ValidLanguage(language) {
		return s.sendError(ctx, CodeConfigError, fmt.Sprintf("unsupported language %q", payload.Language))
	}

	if s.state != StateCreated {
		s.log.Info("session reconfigured; buffered audio discarded", "previous_language", s.language)
	}
	s.language = language
	s.acc = audio.NewAccumulator(s.opts.Capacity)
	s.gate = nil
	if s.opts.VAD.Enabled {
		s.gate = vad.New(s.opts.VAD.Config)
		if payload.EnergyThreshold != nil {
			s.gate.SetEnergyThreshold(*payload.EnergyThreshold)
		}
		if payload.MinSpeechFrames != nil {
			s.gate.SetMinSpeechFrames(*payload.MinSpeechFrames)
		}
		if payload.MinSilenceFrames != nil {
			s.gate.SetMinSilenceFrames(*payload.MinSilenceFrames)
		}
	}
	s.state = StateConfigured
	s.log.Info("session configured", "language", language, "vad", s.gate != nil)

	return s.send(ctx, newReady(s.id, language))
}

// reject reports an authentication failure and terminates the session with a
// policy-violation close.
func (s *Session) reject(ctx context.Context, code ErrorCode, message string) error {
	s.log.Warn("authentication rejected", "code", string(code))
	if err := s.sendError(ctx, code, message); err != nil {
		s.log.Debug("failed to deliver auth error", "error", err)
	}
	s.end(transport.ClosePolicyViolation, message)
	return nil
}

func (s *Session) handleBinary(ctx context.Context, data []byte) (err error) {
	if s.state == StateCreated {
		return s.sendError(ctx, CodeNotConfigured, "session is not configured; send a config message before audio")
	}
	if len(data) == 0 {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("audio processing panicked", "panic", r)
			err = s.sendError(ctx, CodeAudioError, "audio processing failed")
		}
	}()

	samples, decodeErr := audio.DecodeFloat32LE(data)
	if decodeErr != nil {
		return s.sendError(ctx, CodeAudioError, decodeErr.Error())
	}
	s.state = StateStreaming

	buffered := true
	if s.gate != nil {
		speech := s.gate.Process(samples)
		if s.opts.VAD.Mode == config.VADModeGate && !speech {
			buffered = false
		}
	}
	s.metrics.RecordFrame(len(samples), buffered)
	if !buffered {
		return nil
	}

	s.acc.Append(samples)
	window, due := s.acc.Due(s.opts.TriggerThreshold)
	if !due {
		return nil
	}

	text, inferErr := s.transcribe(ctx, window, false)
	if inferErr != nil {
		if ctx.Err() != nil {
			return nil
		}
		return s.sendError(ctx, CodeAudioError, "transcription failed")
	}
	if text == "" {
		return nil
	}
	return s.sendTranscription(ctx, text, false)
}

func (s *Session) handleEnd(ctx context.Context) error {
	s.metrics.RecordFlush()

	window := s.acc.Snapshot()
	text, err := s.transcribe(ctx, window, true)
	switch {
	case err != nil:
		if sendErr := s.sendError(ctx, CodeInternalError, "final transcription failed"); sendErr != nil {
			s.log.Debug("failed to deliver final error", "error", sendErr)
		}
	case text != "":
		if sendErr := s.sendTranscription(ctx, text, true); sendErr != nil {
			s.log.Debug("failed to deliver final transcription", "error", sendErr)
		}
	}

	if s.gate != nil {
		stats := s.gate.Stats()
		s.log.Info("voice activity summary",
			"frames", stats.TotalFrames,
			"speech_frames", stats.SpeechFrames,
			"silence_frames", stats.SilenceFrames,
			"avg_energy", stats.AvgEnergy,
		)
	}
	s.end(transport.CloseNormal, "session ended")
	return nil
}

func (s *Session) transcribe(ctx context.Context, samples []float32, final bool) (text string, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordInference(time.Since(start), len(samples), final, err)
	}()
	text, err = s.engine.Transcribe(ctx, samples, engine.Options{
		Language: s.language,
		Threads:  s.opts.Threads,
		Final:    final,
	})
	return strings.TrimSpace(text), err
}

func (s *Session) end(code transport.CloseCode, reason string) {
	s.state = StateEnded
	if err := s.conn.Close(code, reason); err != nil {
		s.log.Debug("close failed", "error", err)
	}
}

func (s *Session) sendTranscription(ctx context.Context, text string, final bool) error {
	s.metrics.RecordTranscript(text, final)
	return s.send(ctx, transcriptionMessage{
		Type:      TypeTranscription,
		Text:      text,
		IsFinal:   final,
		Timestamp: s.opts.Now().UnixMilli(),
	})
}

func (s *Session) sendError(ctx context.Context, code ErrorCode, message string) error {
	s.metrics.RecordProtocolError(string(code))
	s.log.Debug("protocol error", "code", string(code), "message", message, "state", s.state.String())
	return s.send(ctx, errorMessage{Type: TypeError, Message: message, Code: code})
}

func (s *Session) send(ctx context.Context, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("session: encode message: %w", err)
	}
	if err := s.conn.WriteFrame(ctx, transport.Frame{Type: transport.TextMessage, Data: payload}); err != nil {
		return fmt.Errorf("session: send: %w", err)
	}
	return nil
}
