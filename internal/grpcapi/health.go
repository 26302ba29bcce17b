// Package grpcapi exposes the controller's readiness over the standard gRPC
// health protocol (grpc.health.v1.Health).
package grpcapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the health server. The empty name is the
// overall status: SERVING only while every check passes.
const (
	ServiceGateway = "portunus.gateway"
	ServiceSync    = "portunus.sync"
	ServiceMQTT    = "portunus.mqtt"
)

// Check reports the readiness of one component.
type Check struct {
	Service string
	Healthy func() bool
}

type Config struct {
	Addr string
	// Interval between status refreshes. Zero means 5 seconds.
	Interval time.Duration
}

type Server struct {
	cfg    Config
	checks []Check
	logger *slog.Logger

	grpc   *grpc.Server
	health *health.Server

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewServer(cfg Config, checks []Check, logger *slog.Logger) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		checks: checks,
		logger: logger.With("component", "grpc_health"),
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		last:   make(map[string]healthpb.HealthCheckResponse_ServingStatus),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.Refresh()
	return s
}

// Refresh evaluates every check and publishes the result.
func (s *Server) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for _, c := range s.checks {
		st := healthpb.HealthCheckResponse_SERVING
		if !c.Healthy() {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			overall = st
		}
		s.set(c.Service, st)
	}
	s.set("", overall)
}

func (s *Server) set(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	if prev, ok := s.last[service]; ok && prev != st {
		s.logger.Warn("health changed", "service", service, "status", st.String())
	}
	s.last[service] = st
	s.health.SetServingStatus(service, st)
}

// Serve serves on ln until ctx is cancelled, refreshing the status on the
// configured interval.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		t := time.NewTicker(s.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.health.Shutdown()
				s.grpc.GracefulStop()
				return
			case <-t.C:
				s.Refresh()
			}
		}
	}()

	s.logger.Info("grpc health listening", "addr", ln.Addr().String())
	if err := s.grpc.Serve(ln); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}
