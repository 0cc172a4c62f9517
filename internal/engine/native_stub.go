//go:build !whispercpp

package engine

import "log/slog"

// NativeAvailable reports whether the native whisper backend is compiled in.
func NativeAvailable() bool { return false }

// NewNativeEngine returns an error when the native backend is not built.
func NewNativeEngine(modelPath string, opts NativeOptions, logger *slog.Logger) (Engine, error) {
	return nil, ErrNativeEngineUnavailable
}
