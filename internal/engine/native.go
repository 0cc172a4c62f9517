//go:build whispercpp

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// NativeAvailable reports whether the native whisper backend is compiled in.
func NativeAvailable() bool { return true }

// NativeEngine runs inference through the whisper.cpp Go bindings. A whisper
// context is not safe for concurrent use, so every loaded model copy is
// handed to one pass at a time through a pool.
type NativeEngine struct {
	log    *slog.Logger
	opts   NativeOptions
	pool   chan whisperlib.Model
	models []whisperlib.Model
}

// NewNativeEngine loads opts.Instances copies of the model at modelPath.
func NewNativeEngine(modelPath string, opts NativeOptions, logger *slog.Logger) (Engine, error) {
	if modelPath == "" {
		return nil, errors.New("engine: model path required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &NativeEngine{
		log:  logger.With("component", "engine.native", "model_path", modelPath),
		opts: opts,
		pool: make(chan whisperlib.Model, opts.instances()),
	}
	for i := 0; i < opts.instances(); i++ {
		model, err := whisperlib.New(modelPath)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("engine: load model %q: %w", modelPath, err)
		}
		e.models = append(e.models, model)
		e.pool <- model
	}
	e.log.Info("native engine loaded", "instances", len(e.models))
	return e, nil
}

// Transcribe implements the Engine interface.
func (e *NativeEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	var model whisperlib.Model
	select {
	case model = <-e.pool:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { e.pool <- model }()

	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("engine: create context: %w", err)
	}

	lang := normaliseLanguage(opts.Language, e.opts.Language)
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("engine: set language %q: %w", lang, err)
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = e.opts.Threads
	}
	if threads > 0 {
		wctx.SetThreads(uint(threads))
	}
	wctx.SetTranslate(e.opts.Translate)

	start := time.Now()
	if err := wctx.Process(samples, encoderGate(ctx), nil, nil); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("engine: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("engine: read segment: %w", err)
		}
		parts = append(parts, segment.Text)
	}

	text := joinSegments(parts)
	e.log.Debug("native inference",
		"samples", len(samples),
		"language", lang,
		"final", opts.Final,
		"duration_ms", time.Since(start).Milliseconds(),
		"chars", len(text),
	)
	return text, nil
}

// Close releases every loaded model.
func (e *NativeEngine) Close() error {
	var errs []error
	for _, model := range e.models {
		if err := model.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.models = nil
	return errors.Join(errs...)
}
