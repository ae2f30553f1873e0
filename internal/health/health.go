// Package health exposes the localization state over the standard gRPC
// health checking protocol.
package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/rssi.locate/internal/monitoring"
)

// Service is the health service name that tracks the localization session.
// The empty name reports overall process health and is always SERVING
// while the server runs.
const Service = "rssi.locate.Localization"

// Server serves grpc.health.v1.Health.
type Server struct {
	listenAddr string

	health   *grpchealth.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a Server that will listen on addr.
func NewServer(addr string) *Server {
	return &Server{
		listenAddr: addr,
		health:     grpchealth.NewServer(),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)

	s.running.Store(true)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[health] gRPC health server listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[health] gRPC server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SetLocalizing updates the status of Service.
func (s *Server) SetLocalizing(on bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if on {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, st)
}

// Watch polls check every interval and mirrors it into Service until ctx
// is done.
func (s *Server) Watch(ctx context.Context, check func() bool, interval time.Duration) {
	last := check()
	s.SetLocalizing(last)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if now := check(); now != last {
			last = now
			s.SetLocalizing(now)
			monitoring.Logf("[health] localization serving=%t", now)
		}
	}
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	if !s.running.Swap(false) {
		return
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[health] gRPC health server stopped")
}
