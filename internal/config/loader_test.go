package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nupi-ai/whisper-stream-server/internal/config"
)

func mapLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := config.Loader{Lookup: mapLookup(nil)}.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	assertEqual(t, config.DefaultListenAddr, cfg.ListenAddr, "listen addr")
	assertEqual(t, config.DefaultPath, cfg.Path, "path")
	assertEqual(t, config.DefaultModel, cfg.ModelVariant, "model variant")
	assertEqual(t, config.DefaultLanguage, cfg.Language, "language")
	assertEqual(t, config.DefaultLogLevel, cfg.LogLevel, "log level")
	assertEqual(t, config.DefaultLogFormat, cfg.LogFormat, "log format")
	assertEqual(t, config.DefaultDataDir, cfg.DataDir, "data dir")
	assertEqual(t, config.VADModeGate, cfg.VAD.Mode, "vad mode")
	assertInt(t, config.DefaultMaxConnections, cfg.MaxConnections, "max connections")
	assertInt(t, config.DefaultMaxConnectionsPerAddr, cfg.MaxConnectionsPerAddr, "max per addr")
	assertInt(t, config.DefaultThreads, cfg.Threads, "threads")
	assertInt(t, 1, cfg.EngineInstances, "engine instances")
	assertBool(t, false, cfg.UseStubEngine, "use stub engine")
	assertBool(t, false, cfg.VAD.Enabled, "vad enabled")
	assertBool(t, false, cfg.TLSEnabled(), "tls enabled")
	if cfg.ModelPath != "" {
		t.Fatalf("expected empty model path, got %q", cfg.ModelPath)
	}
	if len(cfg.AuthTokens) != 0 {
		t.Fatalf("expected auth disabled by default, got %v", cfg.AuthTokens)
	}
	if cfg.WriteTimeout != config.DefaultWriteTimeout {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
}

func TestLoaderOverrides(t *testing.T) {
	env := map[string]string{
		"WHISPER_STREAM_CONFIG":                   `{"model_variant":"small","language":"pl","log_level":"debug","data_dir":"/tmp/data","use_stub_engine":false,"threads":2,"vad":{"enabled":true,"energy_threshold":0.05}}`,
		"WHISPER_STREAM_LISTEN_ADDR":              "127.0.0.1:7000",
		"WHISPER_STREAM_LOG_LEVEL":                "warn",
		"WHISPER_STREAM_MODEL_VARIANT":            "medium",
		"WHISPER_STREAM_LANGUAGE":                 "EN",
		"WHISPER_STREAM_MODEL_PATH":               "/models/ggml-medium.bin",
		"WHISPER_STREAM_USE_STUB_ENGINE":          "true",
		"WHISPER_STREAM_THREADS":                  "6",
		"WHISPER_STREAM_AUTH_TOKENS":              "alpha, beta,,",
		"WHISPER_STREAM_AUTH_TOKEN":               "gamma",
		"WHISPER_STREAM_MAX_CONNECTIONS":          "16",
		"WHISPER_STREAM_MAX_CONNECTIONS_PER_ADDR": "4",
		"WHISPER_STREAM_TLS_CERT":                 "/certs/server.crt",
		"WHISPER_STREAM_TLS_KEY":                  "/certs/server.key",
		"WHISPER_STREAM_VAD_MODE":                 "annotate",
		"WHISPER_STREAM_WRITE_TIMEOUT":            "3s",
	}

	cfg, err := config.Loader{Lookup: mapLookup(env)}.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	assertEqual(t, "127.0.0.1:7000", cfg.ListenAddr, "listen addr")
	assertEqual(t, "medium", cfg.ModelVariant, "model variant")
	assertEqual(t, "en", cfg.Language, "language")
	assertEqual(t, "warn", cfg.LogLevel, "log level")
	assertEqual(t, "/tmp/data", cfg.DataDir, "data dir")
	assertEqual(t, "/models/ggml-medium.bin", cfg.ModelPath, "model path")
	assertEqual(t, "annotate", cfg.VAD.Mode, "vad mode")
	assertEqual(t, "alpha,beta,gamma", strings.Join(cfg.AuthTokens, ","), "auth tokens")
	assertBool(t, true, cfg.UseStubEngine, "use stub engine")
	assertBool(t, true, cfg.VAD.Enabled, "vad enabled")
	assertBool(t, true, cfg.TLSEnabled(), "tls enabled")
	assertInt(t, 6, cfg.Threads, "threads")
	assertInt(t, 16, cfg.MaxConnections, "max connections")
	assertInt(t, 4, cfg.MaxConnectionsPerAddr, "max per addr")
	if cfg.VAD.EnergyThreshold != 0.05 {
		t.Fatalf("unexpected vad threshold: %v", cfg.VAD.EnergyThreshold)
	}
	if cfg.WriteTimeout != 3*time.Second {
		t.Fatalf("unexpected write timeout: %v", cfg.WriteTimeout)
	}
}

func TestLoaderYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	content := `
listen_addr: 127.0.0.1:9100
language: de
auth_tokens: [one, two]
shutdown_timeout: 2s
vad:
  enabled: true
  min_silence_frames: 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	env := map[string]string{
		"WHISPER_STREAM_CONFIG_FILE": path,
		"WHISPER_STREAM_LANGUAGE":    "fr",
	}

	cfg, err := config.Loader{Lookup: mapLookup(env)}.Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	assertEqual(t, "127.0.0.1:9100", cfg.ListenAddr, "listen addr")
	assertEqual(t, "fr", cfg.Language, "language")
	assertEqual(t, "one,two", strings.Join(cfg.AuthTokens, ","), "auth tokens")
	assertBool(t, true, cfg.VAD.Enabled, "vad enabled")
	assertInt(t, 10, cfg.VAD.MinSilenceFrames, "min silence frames")
	if cfg.ShutdownTimeout != 2*time.Second {
		t.Fatalf("unexpected shutdown timeout: %v", cfg.ShutdownTimeout)
	}
}

func TestLoaderYAMLUnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte("listen_adr: typo\n"), 0o644); err != nil {
		t.Fatalf("WriteFile error: %v", err)
	}
	_, err := config.Loader{Lookup: mapLookup(map[string]string{"WHISPER_STREAM_CONFIG_FILE": path})}.Load()
	if err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestLoaderRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad json":       {"WHISPER_STREAM_CONFIG": `{"listen_addr":`},
		"bad int":        {"WHISPER_STREAM_MAX_CONNECTIONS": "many"},
		"bad bool":       {"WHISPER_STREAM_VAD_ENABLED": "sometimes"},
		"cert only":      {"WHISPER_STREAM_TLS_CERT": "/certs/server.crt"},
		"bad language":   {"WHISPER_STREAM_LANGUAGE": "english!"},
		"bad vad mode":   {"WHISPER_STREAM_VAD_MODE": "drop"},
		"bad log format": {"WHISPER_STREAM_LOG_FORMAT": "xml"},
		"bad path":       {"WHISPER_STREAM_PATH": "ws"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := (config.Loader{Lookup: mapLookup(env)}).Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestValidLanguage(t *testing.T) {
	for _, lang := range []string{"en", "es", "auto", "pt-br", "yue"} {
		if !config.ValidLanguage(lang) {
			t.Fatalf("expected %q to be valid", lang)
		}
	}
	for _, lang := range []string{"", "e", "EN", "english", "en_US", "12"} {
		if config.ValidLanguage(lang) {
			t.Fatalf("expected %q to be invalid", lang)
		}
	}
}

func assertEqual(t *testing.T, want, got, label string) {
	t.Helper()
	if want != got {
		t.Fatalf("unexpected %s: want %q, got %q", label, want, got)
	}
}

func assertBool(t *testing.T, want, got bool, label string) {
	t.Helper()
	if want != got {
		t.Fatalf("unexpected %s: want %v, got %v", label, want, got)
	}
}

func assertInt(t *testing.T, want, got int, label string) {
	t.Helper()
	if want != got {
		t.Fatalf("unexpected %s: want %d, got %d", label, want, got)
	}
}
