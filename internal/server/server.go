// Package server exposes transcription sessions over WebSocket. It applies
// admission control before the upgrade and tracks live sessions so shutdown
// can drain them.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nupi-ai/whisper-stream-server/internal/auth"
	"github.com/nupi-ai/whisper-stream-server/internal/config"
	"github.com/nupi-ai/whisper-stream-server/internal/engine"
	"github.com/nupi-ai/whisper-stream-server/internal/limiter"
	"github.com/nupi-ai/whisper-stream-server/internal/session"
	"github.com/nupi-ai/whisper-stream-server/internal/telemetry"
	"github.com/nupi-ai/whisper-stream-server/internal/transport"
	"github.com/nupi-ai/whisper-stream-server/internal/vad"
)

const readHeaderTimeout = 10 * time.Second

// Server accepts WebSocket clients and runs one session per connection.
type Server struct {
	cfg      config.Config
	log      *slog.Logger
	engine   engine.Engine
	auth     *auth.Manager
	limiter  *limiter.Limiter
	metrics  *telemetry.Recorder
	upgrader websocket.Upgrader

	sessionCtx     context.Context
	cancelSessions context.CancelFunc
	sessions       sync.WaitGroup

	mu        sync.Mutex
	http      *http.Server
	ready     chan struct{}
	readyOnce sync.Once
}

// New returns a Server. A nil limiter admits every connection and a nil or
// empty auth manager disables authentication.
func New(cfg config.Config, logger *slog.Logger, eng engine.Engine, authMgr *auth.Manager, lim *limiter.Limiter, metrics *telemetry.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if eng == nil {
		panic("server: engine must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger, nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg: cfg,
		log: logger.With(
			"component", "server",
			"model_variant", cfg.ModelVariant,
			"language", cfg.Language,
		),
		engine:  eng,
		auth:    authMgr,
		limiter: lim,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessionCtx:     ctx,
		cancelSessions: cancel,
		ready:          make(chan struct{}),
	}
}

// Ready is closed once Serve holds a bound listener and accepts clients.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Handler routes the configured path to the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	path := s.cfg.Path
	if path == "" {
		path = config.DefaultPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, s)
	return mux
}

// ServeHTTP admits, upgrades and serves a single client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.sessionCtx.Err() != nil {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	addr := clientAddr(r)
	if s.limiter == nil {
		s.serveSession(w, r)
		return
	}
	if !s.limiter.Run(addr, func() { s.serveSession(w, r) }) {
		s.metrics.RecordRejected()
		s.log.Warn("connection rejected: limit reached", "client_addr", addr, "remote_addr", r.RemoteAddr)
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
	}
}

func (s *Server) serveSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Add(1)
	defer s.sessions.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := transport.NewWebSocketConn(s.sessionCtx, ws, transport.Options{
		WriteTimeout:    s.cfg.WriteTimeout,
		MaxMessageBytes: s.cfg.MaxMessageBytes,
	})
	defer conn.Close(transport.CloseNormal, "")

	sess := session.New(conn, s.engine, s.auth, s.metrics, s.log, s.sessionOptions())
	if err := sess.Run(s.sessionCtx); err != nil {
		s.log.Warn("session terminated with error", "session_id", sess.ID(), "error", err)
	}
}

func (s *Server) sessionOptions() session.Options {
	return session.Options{
		DefaultLanguage: s.cfg.Language,
		Threads:         s.cfg.Threads,
		VAD: session.VADOptions{
			Enabled: s.cfg.VAD.Enabled,
			Mode:    s.cfg.VAD.Mode,
			Config: vad.Config{
				EnergyThreshold:  s.cfg.VAD.EnergyThreshold,
				MinSpeechFrames:  s.cfg.VAD.MinSpeechFrames,
				MinSilenceFrames: s.cfg.VAD.MinSilenceFrames,
			},
		},
	}
}

// ListenAndServe binds the configured address, with TLS when a certificate
// is configured, and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var tlsConfig *tls.Config
	if s.cfg.TLSEnabled() {
		var err error
		tlsConfig, err = transport.LoadTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
		if err != nil {
			return err
		}
	}
	lis, err := transport.Listen(s.cfg.ListenAddr, tlsConfig)
	if err != nil {
		return err
	}
	s.log.Info("listening",
		"addr", lis.Addr().String(),
		"path", s.cfg.Path,
		"tls", tlsConfig != nil,
		"auth", s.auth.Enabled(),
	)
	return s.Serve(ctx, lis)
}

// Serve accepts connections on lis until ctx is cancelled, then drains live
// sessions within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(lis)
	}()
	s.readyOnce.Do(func() { close(s.ready) })

	select {
	case err := <-errCh:
		s.cancelSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Shutdown(shutdownCtx)
	<-errCh
	return err
}

// Shutdown stops accepting connections, closes every live session with a
// going-away status and waits for their goroutines to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutdown requested, closing sessions")

	var errs []error
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server: http shutdown: %w", err))
		}
	}

	s.cancelSessions()

	drained := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.log.Warn("graceful stop timed out with sessions still active")
		errs = append(errs, fmt.Errorf("server: drain sessions: %w", ctx.Err()))
	}
	return errors.Join(errs...)
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
