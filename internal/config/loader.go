package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "WHISPER_STREAM_"

// Loader loads configuration from an optional YAML file and environment
// variables. Tests can override Lookup to inject deterministic maps.
type Loader struct {
	Lookup func(string) (string, bool)
}

// Load retrieves the server configuration and validates it. Later sources
// override earlier ones: defaults, the YAML file named by
// WHISPER_STREAM_CONFIG_FILE, the WHISPER_STREAM_CONFIG JSON payload, then
// individual variables.
func (l Loader) Load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}

	cfg := Config{
		ListenAddr: DefaultListenAddr,
	}

	if path, ok := l.Lookup(envPrefix + "CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		if err := applyYAMLFile(strings.TrimSpace(path), &cfg); err != nil {
			return Config{}, err
		}
	}

	if raw, ok := l.Lookup(envPrefix + "CONFIG"); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	var errs []error
	overrideString(l.Lookup, envPrefix+"LISTEN_ADDR", &cfg.ListenAddr)
	overrideString(l.Lookup, envPrefix+"PATH", &cfg.Path)
	overrideString(l.Lookup, envPrefix+"LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, envPrefix+"LOG_FORMAT", &cfg.LogFormat)
	overrideString(l.Lookup, envPrefix+"MODEL_VARIANT", &cfg.ModelVariant)
	overrideString(l.Lookup, envPrefix+"MODEL_PATH", &cfg.ModelPath)
	overrideString(l.Lookup, envPrefix+"DATA_DIR", &cfg.DataDir)
	overrideString(l.Lookup, envPrefix+"LANGUAGE", &cfg.Language)
	overrideString(l.Lookup, envPrefix+"TLS_CERT", &cfg.TLSCert)
	overrideString(l.Lookup, envPrefix+"TLS_KEY", &cfg.TLSKey)
	overrideString(l.Lookup, envPrefix+"HEALTH_ADDR", &cfg.HealthAddr)
	overrideString(l.Lookup, envPrefix+"METRICS_ADDR", &cfg.MetricsAddr)
	overrideString(l.Lookup, envPrefix+"VAD_MODE", &cfg.VAD.Mode)
	overrideList(l.Lookup, envPrefix+"AUTH_TOKENS", &cfg.AuthTokens)
	if token, ok := l.Lookup(envPrefix + "AUTH_TOKEN"); ok && strings.TrimSpace(token) != "" {
		cfg.AuthTokens = append(cfg.AuthTokens, strings.TrimSpace(token))
	}
	errs = append(errs,
		overrideInt(l.Lookup, envPrefix+"MAX_CONNECTIONS", &cfg.MaxConnections),
		overrideInt(l.Lookup, envPrefix+"MAX_CONNECTIONS_PER_ADDR", &cfg.MaxConnectionsPerAddr),
		overrideInt(l.Lookup, envPrefix+"THREADS", &cfg.Threads),
		overrideInt(l.Lookup, envPrefix+"ENGINE_INSTANCES", &cfg.EngineInstances),
		overrideBool(l.Lookup, envPrefix+"USE_STUB_ENGINE", &cfg.UseStubEngine),
		overrideBool(l.Lookup, envPrefix+"MODEL_AUTO_DOWNLOAD", &cfg.ModelAutoDownload),
		overrideBool(l.Lookup, envPrefix+"VAD_ENABLED", &cfg.VAD.Enabled),
		overrideDuration(l.Lookup, envPrefix+"WRITE_TIMEOUT", &cfg.WriteTimeout),
		overrideDuration(l.Lookup, envPrefix+"SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout),
	)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: open %q: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %q: %w", path, err)
	}
	return nil
}

func applyJSON(raw string, cfg *Config) error {
	if err := json.Unmarshal([]byte(raw), cfg); err != nil {
		return fmt.Errorf("config: decode %sCONFIG: %w", envPrefix, err)
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideList(lookup func(string) (string, bool), key string, target *[]string) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*target = out
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideDuration(lookup func(string) (string, bool), key string, target *time.Duration) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}
