package session

import "github.com/nupi-ai/whisper-stream-server/internal/audio"

// ErrorCode identifies the cause of an error message.
type ErrorCode string

const (
	CodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	CodeNotConfigured  ErrorCode = "NOT_CONFIGURED"
	CodeUnknownType    ErrorCode = "UNKNOWN_TYPE"
	CodeParseError     ErrorCode = "PARSE_ERROR"
	CodeAudioError     ErrorCode = "AUDIO_ERROR"
	CodeConfigError    ErrorCode = "CONFIG_ERROR"
	CodeAuthRequired   ErrorCode = "AUTH_REQUIRED"
	CodeAuthFailed     ErrorCode = "AUTH_FAILED"
	CodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Message type tags.
const (
	TypeConfig        = "config"
	TypeEnd           = "end"
	TypeReady         = "ready"
	TypeTranscription = "transcription"
	TypeError         = "error"
)

// configPayload is the client handshake. Every field is optional; the VAD
// fields override the server defaults for this session only. Language must
// be "auto" or a lowercase ISO 639 code with an optional region suffix
// (config.ValidLanguage); anything else is answered with CONFIG_ERROR.
type configPayload struct {
	Language         string   `json:"language"`
	Token            string   `json:"token"`
	EnergyThreshold  *float32 `json:"energy_threshold"`
	MinSpeechFrames  *int     `json:"min_speech_frames"`
	MinSilenceFrames *int     `json:"min_silence_frames"`
}

// ReadyConfig echoes the effective session settings.
type ReadyConfig struct {
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

type readyMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Config    ReadyConfig `json:"config"`
}

type transcriptionMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"`
	Timestamp int64  `json:"timestamp"`
}

type errorMessage struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
}

// Message is the union of every server message. Clients decode into it and
// switch on Type.
type Message struct {
	Type      string       `json:"type"`
	SessionID string       `json:"session_id,omitempty"`
	Config    *ReadyConfig `json:"config,omitempty"`
	Text      string       `json:"text,omitempty"`
	IsFinal   bool         `json:"is_final,omitempty"`
	Timestamp int64        `json:"timestamp,omitempty"`
	Message   string       `json:"message,omitempty"`
	Code      ErrorCode    `json:"code,omitempty"`
}

func newReady(sessionID, language string) readyMessage {
	return readyMessage{
		Type:      TypeReady,
		SessionID: sessionID,
		Config:    ReadyConfig{Language: language, SampleRate: audio.SampleRate},
	}
}
