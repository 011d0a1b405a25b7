package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Monitor runs checks periodically and publishes them on a gRPC health
// server: one service per check name, plus the empty service name for the
// overall status. Degraded counts as SERVING.
type Monitor struct {
	checks   []Check
	server   *grpchealth.Server
	interval time.Duration
	logger   *slog.Logger

	mu   sync.RWMutex
	last Status
}

// NewMonitor creates a monitor publishing to a new health server.
func NewMonitor(checks []Check, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		checks:   checks,
		server:   grpchealth.NewServer(),
		interval: interval,
		logger:   logger.With("component", "health"),
		last:     Unhealthy("not checked yet", nil),
	}
}

// Server returns the gRPC health server.
func (m *Monitor) Server() *grpchealth.Server {
	return m.server
}

// Last returns the most recent overall status.
func (m *Monitor) Last() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// CheckNow runs every check once and publishes the results.
func (m *Monitor) CheckNow(ctx context.Context) Status {
	overall, results := Run(ctx, m.checks)

	for name, st := range results {
		m.server.SetServingStatus(name, servingStatus(st))
		if st.IsUnhealthy() {
			m.logger.WarnContext(ctx, "health check failed", "check", name, "message", st.Message)
		}
	}
	m.server.SetServingStatus("", servingStatus(overall))

	m.mu.Lock()
	changed := m.last.Status != overall.Status
	m.last = overall
	m.mu.Unlock()
	if changed {
		m.logger.InfoContext(ctx, "health status changed", "status", overall.Status, "message", overall.Message)
	}
	return overall
}

// Run checks immediately and then on every interval until ctx is done, when
// all services are marked NOT_SERVING.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.server.Shutdown()
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

func servingStatus(st Status) healthpb.HealthCheckResponse_ServingStatus {
	if st.IsUnhealthy() {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

// NewGRPCServer returns a gRPC server exposing the monitor's health service.
func NewGRPCServer(m *Monitor, opts ...grpc.ServerOption) *grpc.Server {
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, m.server)
	return srv
}
