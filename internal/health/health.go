// Package health serves the standard gRPC health checking protocol so
// orchestrators can probe the WebSocket server out of band.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health key reported for the transcription endpoint in
// addition to the overall "" key.
const ServiceName = "whisper_stream.Transcription"

// Server wraps a gRPC server exposing only the health service.
type Server struct {
	log    *slog.Logger
	grpc   *grpc.Server
	health *grpchealth.Server
}

// New returns a Server reporting NOT_SERVING until SetServing is called.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:    logger.With("component", "health"),
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
	}
	healthgrpc.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing flips both health keys.
func (s *Server) SetServing(serving bool) {
	status := healthgrpc.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthgrpc.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, timeout time.Duration) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", addr, err)
	}
	s.log.Info("health endpoint listening", "addr", lis.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(timeout)
	}()
	return s.Serve(lis)
}

// Stop marks the service NOT_SERVING and stops gracefully, forcing the stop
// once timeout elapses.
func (s *Server) Stop(timeout time.Duration) {
	s.SetServing(false)

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(timeout):
		s.log.Warn("graceful stop timed out, forcing stop")
		s.grpc.Stop()
	}
}
