// Package grpcserver exposes the health checker over the standard gRPC
// health protocol for orchestrators that probe with grpc_health_probe.
package grpcserver

import (
	"context"
	"net"
	"time"

	pkghealth "music-stream/backend/pkg/health"
	"music-stream/backend/pkg/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported alongside the overall ("") service
const ServiceName = "music-stream.Realtime"

// HealthServer mirrors a health.Checker into a gRPC health service
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checker  *pkghealth.Checker
	interval time.Duration
	log      *logger.Logger
}

// New creates a gRPC server with the health service registered
func New(checker *pkghealth.Checker, interval time.Duration, log *logger.Logger) *HealthServer {
	if log == nil {
		log = logger.GetGlobal()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &HealthServer{
		server:   srv,
		health:   hs,
		checker:  checker,
		interval: interval,
		log:      log,
	}
	s.sync()
	return s
}

// Serve blocks serving on lis and keeps the reported status in step with
// the checker until ctx is done or the server stops
func (s *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	go s.poll(ctx)
	s.log.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop marks every service as not serving and stops gracefully
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *HealthServer) poll(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sync()
		case <-ctx.Done():
			return
		}
	}
}

func (s *HealthServer) sync() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.checker.IsSystemHealthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
