// Package models locates ggml whisper model files on disk and downloads them
// on request.
package models

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultBaseURL hosts the upstream ggml model files.
const DefaultBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// ErrModelNotFound is returned when no model file exists for a variant.
var ErrModelNotFound = errors.New("models: model file not found")

var variantPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Manager resolves model variants to files under <dataDir>/models.
type Manager struct {
	dir     string
	log     *slog.Logger
	client  *http.Client
	baseURL string
}

// Option customises a Manager.
type Option func(*Manager)

// WithBaseURL overrides the download location.
func WithBaseURL(url string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient overrides the client used for downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// NewManager prepares the models directory below dataDir.
func NewManager(dataDir string, logger *slog.Logger, opts ...Option) (*Manager, error) {
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("models: data dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(dataDir, "models")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("models: create %s: %w", dir, err)
	}
	m := &Manager{
		dir:     dir,
		log:     logger.With("component", "models"),
		client:  http.DefaultClient,
		baseURL: DefaultBaseURL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ModelsDir returns the directory holding downloaded models.
func (m *Manager) ModelsDir() string { return m.dir }

// Filename maps a variant such as "base" or "small.en" to its ggml file name.
func Filename(variant string) (string, error) {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if !variantPattern.MatchString(variant) {
		return "", fmt.Errorf("models: invalid variant %q", variant)
	}
	return "ggml-" + variant + ".bin", nil
}

// Resolve returns the path of an existing model file. A non-empty override
// wins over the variant lookup and must exist.
func (m *Manager) Resolve(variant, override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if err := checkFile(override); err != nil {
			return "", err
		}
		return override, nil
	}
	name, err := Filename(variant)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.dir, name)
	if err := checkFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// Ensure resolves the variant and downloads it when it is missing locally.
func (m *Manager) Ensure(ctx context.Context, variant string) (string, error) {
	path, err := m.Resolve(variant, "")
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, ErrModelNotFound) {
		return "", err
	}
	name, err := Filename(variant)
	if err != nil {
		return "", err
	}
	return m.download(ctx, name)
}

func (m *Manager) download(ctx context.Context, name string) (string, error) {
	url := m.baseURL + "/" + name
	target := filepath.Join(m.dir, name)
	m.log.Info("downloading model", "url", url, "path", target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("models: build request: %w", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("models: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("models: download %s: unexpected status %s", name, resp.Status)
	}

	tmp, err := os.CreateTemp(m.dir, name+".*.part")
	if err != nil {
		return "", fmt.Errorf("models: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("models: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("models: install %s: %w", name, err)
	}
	m.log.Info("model downloaded", "path", target, "bytes", written)
	return target, nil
}

func checkFile(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("models: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("models: %s is a directory", path)
	}
	return nil
}
