package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeGrace = time.Second

// Options tunes a WebSocketConn.
type Options struct {
	// WriteTimeout bounds every write; zero disables the deadline.
	WriteTimeout time.Duration
	// MaxMessageBytes caps inbound messages; zero keeps the library default.
	MaxMessageBytes int64
}

// WebSocketConn adapts a gorilla connection to Conn.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	remote       string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	stop      func() bool
}

// NewWebSocketConn wraps ws. When ctx is cancelled the connection is closed
// with a going-away status, which unblocks any pending ReadFrame.
func NewWebSocketConn(ctx context.Context, ws *websocket.Conn, opts Options) *WebSocketConn {
	if opts.MaxMessageBytes > 0 {
		ws.SetReadLimit(opts.MaxMessageBytes)
	}
	remote := ""
	if addr := ws.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	c := &WebSocketConn{
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		remote:       remote,
		closed:       make(chan struct{}),
	}
	c.stop = context.AfterFunc(ctx, func() {
		_ = c.Close(CloseGoingAway, "server shutting down")
	})
	return c
}

// ReadFrame blocks for the next text or binary message.
func (c *WebSocketConn) ReadFrame(ctx context.Context) (Frame, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		select {
		case <-c.closed:
			return Frame{}, ErrClosed
		default:
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Frame{}, ctxErr
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return Frame{}, ErrClosed
		}
		return Frame{}, fmt.Errorf("transport: read: %w", err)
	}
	switch kind {
	case websocket.TextMessage:
		return Frame{Type: TextMessage, Data: data}, nil
	case websocket.BinaryMessage:
		return Frame{Type: BinaryMessage, Data: data}, nil
	default:
		return Frame{}, fmt.Errorf("transport: unexpected message type %d", kind)
	}
}

// WriteFrame sends one message.
func (c *WebSocketConn) WriteFrame(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var kind int
	switch frame.Type {
	case TextMessage:
		kind = websocket.TextMessage
	case BinaryMessage:
		kind = websocket.BinaryMessage
	default:
		return fmt.Errorf("transport: unsupported frame type %v", frame.Type)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("transport: set write deadline: %w", err)
		}
	}
	if err := c.ws.WriteMessage(kind, frame.Data); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close sends a close frame with code and reason, then closes the socket.
// Only the first call has an effect.
func (c *WebSocketConn) Close(code CloseCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.stop != nil {
			c.stop()
		}
		msg := websocket.FormatCloseMessage(int(code), reason)
		if werr := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); werr != nil &&
			!errors.Is(werr, websocket.ErrCloseSent) && !errors.Is(werr, net.ErrClosed) {
			err = fmt.Errorf("transport: send close: %w", werr)
		}
		if cerr := c.ws.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("transport: close: %w", cerr)
		}
	})
	return err
}

// RemoteAddr returns the peer address as reported by the socket.
func (c *WebSocketConn) RemoteAddr() string { return c.remote }
