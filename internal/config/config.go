package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultListenAddr            = "0.0.0.0:9001"
	DefaultPath                  = "/"
	DefaultModel                 = "base"
	DefaultLanguage              = "es"
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultDataDir               = "data"
	DefaultMaxConnections        = 8
	DefaultMaxConnectionsPerAddr = 2
	DefaultThreads               = 4
	DefaultMaxMessageBytes       = 4 << 20
	DefaultWriteTimeout          = 10 * time.Second
	DefaultShutdownTimeout       = 5 * time.Second

	VADModeGate     = "gate"
	VADModeAnnotate = "annotate"
)

var languagePattern = regexp.MustCompile(`^([a-z]{2,3}(-[a-z0-9]{2,8})?|auto)$`)

// Config captures bootstrap configuration read from an optional YAML file, a
// JSON payload (`WHISPER_STREAM_CONFIG`) and individual environment variables.
type Config struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	// Path is the HTTP path accepting WebSocket upgrades.
	Path string `yaml:"path" json:"path"`

	ModelVariant      string `yaml:"model_variant" json:"model_variant"`
	ModelPath         string `yaml:"model_path" json:"model_path"`
	DataDir           string `yaml:"data_dir" json:"data_dir"`
	ModelAutoDownload bool   `yaml:"model_auto_download" json:"model_auto_download"`
	UseStubEngine     bool   `yaml:"use_stub_engine" json:"use_stub_engine"`
	Threads           int    `yaml:"threads" json:"threads"`
	EngineInstances   int    `yaml:"engine_instances" json:"engine_instances"`
	Translate         bool   `yaml:"translate" json:"translate"`

	// Language is used by sessions whose config message names none.
	Language string `yaml:"language" json:"language"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	AuthTokens []string `yaml:"auth_tokens" json:"auth_tokens"`
	TLSCert    string   `yaml:"tls_cert" json:"tls_cert"`
	TLSKey     string   `yaml:"tls_key" json:"tls_key"`

	MaxConnections        int `yaml:"max_connections" json:"max_connections"`
	MaxConnectionsPerAddr int `yaml:"max_connections_per_addr" json:"max_connections_per_addr"`

	MaxMessageBytes int64         `yaml:"max_message_bytes" json:"max_message_bytes"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"-"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"-"`

	HealthAddr  string `yaml:"health_addr" json:"health_addr"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`

	VAD VADConfig `yaml:"vad" json:"vad"`
}

// VADConfig configures the optional voice activity pre-filter.
type VADConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Mode is "gate" (silent audio is not buffered) or "annotate" (the gate
	// only feeds statistics).
	Mode string `yaml:"mode" json:"mode"`
	// EnergyThreshold, MinSpeechFrames and MinSilenceFrames use the vad
	// package defaults (0.02, 3, 20) when zero. An explicit zero threshold
	// therefore cannot be configured server-wide; a client may still send
	// energy_threshold 0 in its config message.
	EnergyThreshold  float32 `yaml:"energy_threshold" json:"energy_threshold"`
	MinSpeechFrames  int     `yaml:"min_speech_frames" json:"min_speech_frames"`
	MinSilenceFrames int     `yaml:"min_silence_frames" json:"min_silence_frames"`
}

// TLSEnabled reports whether the listener should serve wss.
func (c Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// ValidLanguage reports whether lang looks like a language code whisper
// accepts, such as "en", "pt-br" or "auto".
func ValidLanguage(lang string) bool {
	return languagePattern.MatchString(lang)
}

// Validate applies defaults, checks required fields, and rejects out-of-range
// values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen address is required")
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	if c.ModelVariant == "" {
		c.ModelVariant = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	c.Language = strings.ToLower(c.Language)
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxConnectionsPerAddr == 0 {
		c.MaxConnectionsPerAddr = DefaultMaxConnectionsPerAddr
	}
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.EngineInstances == 0 {
		c.EngineInstances = 1
	}
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.VAD.Mode == "" {
		c.VAD.Mode = VADModeGate
	}

	tokens := c.AuthTokens[:0]
	for _, token := range c.AuthTokens {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	c.AuthTokens = tokens

	var errs []error
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("config: path must start with '/', got %q", c.Path))
	}
	if !ValidLanguage(c.Language) {
		errs = append(errs, fmt.Errorf("config: invalid language %q", c.Language))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("config: log_format must be json or console, got %q", c.LogFormat))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, fmt.Errorf("config: tls_cert and tls_key must be set together"))
	}
	if c.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("config: max_connections must be > 0, got %d", c.MaxConnections))
	}
	if c.MaxConnectionsPerAddr < 0 {
		errs = append(errs, fmt.Errorf("config: max_connections_per_addr must be > 0, got %d", c.MaxConnectionsPerAddr))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("config: threads must be >= 0, got %d", c.Threads))
	}
	if c.EngineInstances < 0 {
		errs = append(errs, fmt.Errorf("config: engine_instances must be >= 1, got %d", c.EngineInstances))
	}
	if c.MaxMessageBytes < 0 {
		errs = append(errs, fmt.Errorf("config: max_message_bytes must be > 0, got %d", c.MaxMessageBytes))
	}
	if c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("config: timeouts must be positive"))
	}
	switch c.VAD.Mode {
	case VADModeGate, VADModeAnnotate:
	default:
		errs = append(errs, fmt.Errorf("config: vad.mode must be %q or %q, got %q", VADModeGate, VADModeAnnotate, c.VAD.Mode))
	}
	if c.VAD.EnergyThreshold < 0 || c.VAD.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("config: vad.energy_threshold must be within [0, 1], got %v", c.VAD.EnergyThreshold))
	}
	if c.VAD.MinSpeechFrames < 0 || c.VAD.MinSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("config: vad frame counts must be positive"))
	}
	return errors.Join(errs...)
}
