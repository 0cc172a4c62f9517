package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// serve upgrades every request and hands the wrapped connection to handle.
func serve(t *testing.T, ctx context.Context, handle func(*WebSocketConn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handle(NewWebSocketConn(ctx, ws, Options{WriteTimeout: time.Second, MaxMessageBytes: 1024}))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestEchoFrames(t *testing.T) {
	srv := serve(t, context.Background(), func(c *WebSocketConn) {
		for {
			frame, err := c.ReadFrame(context.Background())
			if err != nil {
				return
			}
			if err := c.WriteFrame(context.Background(), frame); err != nil {
				return
			}
		}
	})
	client := dial(t, srv)

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"end"}`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	kind, data, err := client.ReadMessage()
	if err != nil || kind != websocket.TextMessage || string(data) != `{"type":"end"}` {
		t.Fatalf("unexpected echo: kind=%d data=%q err=%v", kind, data, err)
	}

	if err := client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	kind, data, err = client.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || len(data) != 4 {
		t.Fatalf("unexpected binary echo: kind=%d len=%d err=%v", kind, len(data), err)
	}
}

func TestCloseSendsCode(t *testing.T) {
	lateWrite := make(chan error, 1)
	srv := serve(t, context.Background(), func(c *WebSocketConn) {
		_ = c.Close(ClosePolicyViolation, "auth failed")
		_ = c.Close(CloseNormal, "ignored")
		lateWrite <- c.WriteFrame(context.Background(), Frame{Type: TextMessage, Data: []byte("late")})
	})
	client := dial(t, srv)

	if err := <-lateWrite; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}

	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != int(ClosePolicyViolation) || closeErr.Text != "auth failed" {
		t.Fatalf("unexpected close: %d %q", closeErr.Code, closeErr.Text)
	}
}

func TestPeerCloseReturnsErrClosed(t *testing.T) {
	result := make(chan error, 1)
	srv := serve(t, context.Background(), func(c *WebSocketConn) {
		_, err := c.ReadFrame(context.Background())
		result <- err
	})
	client := dial(t, srv)
	_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))

	select {
	case err := <-result:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not return after peer close")
	}
}

func TestContextCancelUnblocksRead(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	srv := serve(t, ctx, func(c *WebSocketConn) {
		_, err := c.ReadFrame(ctx)
		result <- err
	})
	client := dial(t, srv)

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		if err == nil {
			t.Fatal("expected read error after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not return after cancel")
	}

	_, _, err := client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestReadLimit(t *testing.T) {
	result := make(chan error, 1)
	srv := serve(t, context.Background(), func(c *WebSocketConn) {
		_, err := c.ReadFrame(context.Background())
		result <- err
	})
	client := dial(t, srv)
	_ = client.WriteMessage(websocket.BinaryMessage, make([]byte, 4096))

	select {
	case err := <-result:
		if err == nil || errors.Is(err, ErrClosed) {
			t.Fatalf("expected read limit error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrame did not return for oversized message")
	}
}

func TestListenTLS(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t)
	tlsConfig, err := LoadTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("LoadTLSConfig: %v", err)
	}
	lis, err := Listen("127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer lis.Close()
	if lis.Addr() == nil {
		t.Fatal("expected bound address")
	}

	if _, err := LoadTLSConfig(filepath.Join(t.TempDir(), "missing.crt"), keyFile); err == nil {
		t.Fatal("expected error for missing certificate")
	}
}

func writeSelfSigned(t *testing.T) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile := filepath.Join(dir, "server.crt")
	keyFile := filepath.Join(dir, "server.key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certFile, keyFile
}
