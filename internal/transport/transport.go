// Package transport abstracts the duplex message channel a session talks
// over, so the protocol code never sees whether it runs on ws or wss.
package transport

import (
	"context"
	"errors"
)

// MessageType distinguishes control text from audio payloads.
type MessageType int

const (
	TextMessage MessageType = iota + 1
	BinaryMessage
)

func (t MessageType) String() string {
	switch t {
	case TextMessage:
		return "text"
	case BinaryMessage:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one complete message.
type Frame struct {
	Type MessageType
	Data []byte
}

// CloseCode is a WebSocket close status.
type CloseCode int

const (
	CloseNormal          CloseCode = 1000
	CloseGoingAway       CloseCode = 1001
	ClosePolicyViolation CloseCode = 1008
	CloseInternalError   CloseCode = 1011
)

// ErrClosed is returned by ReadFrame once the peer closed the connection
// cleanly or the connection was closed locally.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a message oriented duplex connection. ReadFrame must only be called
// from one goroutine; WriteFrame and Close are safe for concurrent use.
type Conn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, frame Frame) error
	Close(code CloseCode, reason string) error
	RemoteAddr() string
}
