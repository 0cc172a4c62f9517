package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nupi-ai/whisper-stream-server/internal/serverinfo"
)

// StubEngine produces deterministic transcripts without invoking Whisper.
type StubEngine struct {
	log          *slog.Logger
	modelVariant string
	language     string
}

// NewStubEngine returns an Engine that generates placeholder transcripts.
func NewStubEngine(logger *slog.Logger, modelVariant, defaultLanguage string) *StubEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubEngine{
		log: logger.With(
			"component", "engine.stub",
			"server", serverinfo.Info.Slug,
			"model_variant", modelVariant,
		),
		modelVariant: modelVariant,
		language:     defaultLanguage,
	}
}

// Close implements the Engine interface.
func (e *StubEngine) Close() error {
	return nil
}

// Transcribe implements the Engine interface.
func (e *StubEngine) Transcribe(ctx context.Context, samples []float32, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}
	lang := normaliseLanguage(opts.Language, e.language)
	stage := "partial"
	if opts.Final {
		stage = "final"
	}
	seconds := float64(len(samples)) / sampleRate
	e.log.Debug("stub transcript", "samples", len(samples), "language", lang, "final", opts.Final)
	return fmt.Sprintf("[stub:%s] %s %.2fs of audio (%s)", e.modelVariant, stage, seconds, lang), nil
}
