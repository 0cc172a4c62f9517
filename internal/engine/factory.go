package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nupi-ai/whisper-stream-server/internal/config"
	"github.com/nupi-ai/whisper-stream-server/internal/models"
)

// ErrNativeEngineUnavailable indicates that the native backend was not built in.
var ErrNativeEngineUnavailable = errors.New("engine: native backend unavailable")

// New resolves the configured model and returns the Engine shared by all
// sessions, plus the model path in use. It falls back to the stub engine,
// returning the cause as a non-nil error, when the native backend is absent or
// the model cannot be loaded.
func New(ctx context.Context, cfg config.Config, manager *models.Manager, logger *slog.Logger) (Engine, string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	stub := func() Engine { return NewStubEngine(logger, cfg.ModelVariant, cfg.Language) }

	if cfg.UseStubEngine {
		logger.Warn("stub engine forced by configuration")
		return stub(), "", nil
	}

	if manager == nil {
		logger.Warn("model manager unavailable; using stub engine")
		return stub(), "", ErrNativeEngineUnavailable
	}

	var (
		modelPath string
		err       error
	)
	if cfg.ModelAutoDownload && cfg.ModelPath == "" {
		modelPath, err = manager.Ensure(ctx, cfg.ModelVariant)
	} else {
		modelPath, err = manager.Resolve(cfg.ModelVariant, cfg.ModelPath)
	}
	if err != nil {
		logger.Warn("model resolution failed; using stub engine", "error", err)
		return stub(), "", err
	}

	if !NativeAvailable() {
		logger.Warn("native backend disabled at build time; using stub engine", "model_path", modelPath)
		return stub(), modelPath, ErrNativeEngineUnavailable
	}

	native, err := NewNativeEngine(modelPath, NativeOptions{
		Language:  cfg.Language,
		Threads:   cfg.Threads,
		Instances: cfg.EngineInstances,
		Translate: cfg.Translate,
	}, logger)
	if err != nil {
		logger.Error("native engine initialisation failed; using stub", "error", err, "model_path", modelPath)
		return stub(), modelPath, err
	}
	logger.Info("native engine ready", "model_path", modelPath)
	return native, modelPath, nil
}
