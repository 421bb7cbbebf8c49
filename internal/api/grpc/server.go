// Package grpcapi serves gRPC health and reflection for the call triage service.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-call-triage-service/internal/observability"
	"ai-call-triage-service/internal/observability/metrics"
)

// ServiceName is the health-checked service name.
const ServiceName = "ai.calltriage.CallTriageService"

// Server wraps a gRPC server exposing health checks and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates a gRPC server with metrics and logging interceptors.
// Both the overall and the named service start NOT_SERVING.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	s := &Server{grpc: g, health: healthServer}
	s.SetServing(false)
	return s
}

// SetServing flips the reported health of the service.
func (s *Server) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve blocks serving on lis.
func (s *Server) Serve(lis net.Listener) error {
	log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC server")
	return s.grpc.Serve(lis)
}

// GracefulStop reports NOT_SERVING and drains in-flight calls.
func (s *Server) GracefulStop() {
	log.Info().Msg("Shutting down gRPC server")
	s.SetServing(false)
	s.grpc.GracefulStop()
}
