// Package serverinfo centralises static identifiers for the server.
package serverinfo

// Metadata captures static identifiers for the server.
type Metadata struct {
	Name        string
	BinaryName  string
	Slug        string
	Description string
	Version     string
}

// Info describes the current server.
var Info = Metadata{
	Name:        "Whisper Stream Server",
	BinaryName:  "whisper-stream-server",
	Slug:        "whisper-stream",
	Description: "Real-time WebSocket speech-to-text server backed by Whisper.",
	Version:     "1.0.0",
}

// Version returns the server version string.
func Version() string { return Info.Version }

// LogAttrs returns the attributes attached to the root logger.
func LogAttrs() []any {
	return []any{"service", Info.Slug, "version", Info.Version}
}
